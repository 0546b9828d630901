package model

import (
	"time"

	"gorm.io/gorm"
)

// DatabaseModels is a list of all the structs exported here which
// represent tables in the database schema
var DatabaseModels = []interface{}{
	&SessionLog{},
	&ChatLog{},
	&DeathLog{},
}

// SessionLog is one completed (or still open) player session. Rows
// with a NULL EndedAt were open when the process stopped.
type SessionLog struct {
	gorm.Model
	SessionID   int64      `json:"sessionId" gorm:"index:idx_sessionlog_session_id"`
	DisplayName string     `json:"displayName" gorm:"size:127"`
	SocialClub  string     `json:"socialClub" gorm:"size:127"`
	CharacterID string     `json:"characterId" gorm:"size:64;index:idx_sessionlog_character_id"`
	StartedAt   time.Time  `json:"startedAt" gorm:"index:idx_sessionlog_started_at"`
	EndedAt     *time.Time `json:"endedAt"`
	QuitReason  string     `json:"quitReason" gorm:"size:127"`
	DurationSec int64      `json:"durationSec"`

	// Last known position, for "where did they log out" queries.
	LastX float64 `json:"lastX"`
	LastY float64 `json:"lastY"`
	LastZ float64 `json:"lastZ"`
}

func (*SessionLog) TableName() string {
	return "session_logs"
}

// ChatLog is one chat line or slash command, retained for moderation.
type ChatLog struct {
	gorm.Model
	SessionID   int64     `json:"sessionId" gorm:"index:idx_chatlog_session_id"`
	DisplayName string    `json:"displayName" gorm:"size:127"`
	Text        string    `json:"text" gorm:"size:1023"`
	Command     bool      `json:"command"`
	SaidAt      time.Time `json:"saidAt" gorm:"index:idx_chatlog_said_at"`
}

func (*ChatLog) TableName() string {
	return "chat_logs"
}

// DeathLog is one player death. KillerSessionID is zero for deaths
// without a resolved killer.
type DeathLog struct {
	gorm.Model
	VictimSessionID int64     `json:"victimSessionId" gorm:"index:idx_deathlog_victim_id"`
	VictimName      string    `json:"victimName" gorm:"size:127"`
	KillerSessionID int64     `json:"killerSessionId"`
	KillerName      string    `json:"killerName" gorm:"size:127"`
	DiedAt          time.Time `json:"diedAt"`
}

func (*DeathLog) TableName() string {
	return "death_logs"
}
