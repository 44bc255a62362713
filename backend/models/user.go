package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	UserActivo   = "activo"
	UserInactivo = "inactivo"
)

type User struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey"`
	Email        string    `gorm:"unique;not null"`
	Nombre       string
	Estado       string `gorm:"default:activo;index"`
	IsAdmin      bool   `gorm:"default:false"`
	PasswordHash string // only set for admin accounts
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}
