package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Attempt lifecycle states.
const (
	AttemptEnProgreso = "en_progreso"
	AttemptEnviado    = "enviado"
	AttemptExpirado   = "expirado"
	AttemptFallido    = "fallido"
)

type Attempt struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SurveyID  uuid.UUID `gorm:"type:uuid;index;not null"`
	UserID    uuid.UUID `gorm:"type:uuid;index;not null"`
	TeacherID uuid.UUID `gorm:"type:uuid;index;not null"`

	IntentoNro   int    `gorm:"not null"`
	Estado       string `gorm:"not null;index"`
	ProgresoJSON datatypes.JSON
	ExpiresAt    *time.Time

	CreadoEn      time.Time `gorm:"autoCreateTime"`
	ActualizadoEn time.Time `gorm:"autoUpdateTime"`

	Responses []Response
}

type Response struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	AttemptID  uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:uq_attempt_question"`
	QuestionID uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:uq_attempt_question"`

	ValorLikert *int           // nil for free-text
	Texto       datatypes.JSON // nil for likert

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// AttemptLimit stores per-(survey,user) overrides of the base session budget.
// Absence of a row means the system default applies.
type AttemptLimit struct {
	SurveyID uuid.UUID `gorm:"type:uuid;primaryKey"`
	UserID   uuid.UUID `gorm:"type:uuid;primaryKey"`

	MaxIntentos    *int
	ExtraOtorgados int `gorm:"default:0;not null"`
}

func (a *Attempt) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (r *Response) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
