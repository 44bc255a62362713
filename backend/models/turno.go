package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TurnoOpen   = "open"
	TurnoClosed = "closed"
)

type Turno struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;index;not null"`
	Status   string    `gorm:"default:open;not null;index"`
	OpenedAt time.Time `gorm:"autoCreateTime"`
	ClosedAt *time.Time
}

func (t *Turno) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
