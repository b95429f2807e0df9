package models

import (
	"time"

	"gorm.io/gorm"
)

type BaseModel struct {
	ID        uint           `json:"id" gorm:"primarykey"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

const (
	SessionRecording = "recording"
	SessionStopped   = "stopped"
	SessionAbandoned = "abandoned" // the process went away while recording
)

type RecordingSession struct {
	BaseModel
	SessionID string         `json:"session_id" gorm:"uniqueIndex;size:36;not null"`
	URL       string         `json:"url" gorm:"size:2000;not null"`
	Device    string         `json:"device" gorm:"size:100"`
	Width     int            `json:"width"`
	Height    int            `json:"height"`
	Status    string         `json:"status" gorm:"size:20;index;not null"` // recording, stopped, abandoned
	Script    string         `json:"script" gorm:"type:longtext"`
	StartedAt time.Time      `json:"started_at"`
	StoppedAt *time.Time     `json:"stopped_at"`
	Steps     []RecordedStep `json:"steps" gorm:"foreignKey:SessionID;references:SessionID"`
}

type RecordedStep struct {
	BaseModel
	SessionID  string    `json:"session_id" gorm:"size:36;index;not null"`
	Seq        int       `json:"seq" gorm:"not null"`
	EventType  string    `json:"event_type" gorm:"size:20;not null"` // click, type
	Selector   string    `json:"selector" gorm:"type:text;not null"`
	Value      *string   `json:"value" gorm:"type:text"`
	RecordedAt time.Time `json:"recorded_at"`
}
