package normalizer

import (
	"math"

	"github.com/openrp/presence/pkg/core"
)

// Host payloads arrive as decoded JSON, so numbers are float64 and ids
// may be serialized as either integers or floats. These helpers convert
// tolerantly and report absence instead of failing.

func getInt64(m map[string]any, key string) (int64, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	}
	return 0, false
}

func getInt(m map[string]any, key string) (int, bool) {
	v, ok := getInt64(m, key)
	return int(v), ok
}

func getString(m map[string]any, key string) (string, bool) {
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func getBool(m map[string]any, key string) (bool, bool) {
	v, ok := m[key]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

func getFloat(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

// getPosition reads a {x,y,z} object. Missing axes default to zero so a
// host that omits elevation still produces a usable coordinate.
func getPosition(m map[string]any, key string) (core.Position3D, bool) {
	v, ok := m[key]
	if !ok {
		return core.Position3D{}, false
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return core.Position3D{}, false
	}
	var pos core.Position3D
	pos.X, _ = getFloat(obj, "x")
	pos.Y, _ = getFloat(obj, "y")
	pos.Z, _ = getFloat(obj, "z")
	return pos, true
}
