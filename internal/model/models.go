package model

import (
	"time"

	"gorm.io/datatypes"
)

// Persistence models. The in-memory session store is authoritative for live
// play; these records back reconnection-after-restart and audit.

type User struct {
	ID        string `gorm:"primaryKey;size:36"`
	Nickname  string `gorm:"size:64"`
	Status    string `gorm:"default:normal;not null"` // normal/banned
	CreatedAt time.Time
	UpdatedAt time.Time
}

type GameSessionRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	Status       string `gorm:"index"`
	RoomType     string `gorm:"index"`
	PlayersJSON  datatypes.JSON `gorm:"type:jsonb"`
	ScoresJSON   datatypes.JSON `gorm:"type:jsonb"`
	StateJSON    datatypes.JSON `gorm:"type:jsonb"` // full Session snapshot
	TotalRounds  int
	RoundsPlayed int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type SessionRoundLog struct {
	ID         int64  `gorm:"primaryKey;autoIncrement"`
	SessionID  string `gorm:"index;size:36"`
	RoundNo    int
	Outcome    string
	WinnerID   string `gorm:"size:36"`
	Points     int
	Multiplier int
	YakuJSON   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time
}
