package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	SurveyActiva  = "activa"
	SurveyCerrada = "cerrada"
)

const (
	QuestionLikert = "likert"
	QuestionTexto  = "texto"
)

type Survey struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Codigo      string    `gorm:"unique;not null"`
	Nombre      string    `gorm:"not null"`
	Estado      string    `gorm:"default:activa;index"`
	FechaInicio *time.Time
	FechaFin    *time.Time
	Sections    []SurveySection
	Questions   []Question
}

type SurveySection struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	SurveyID uuid.UUID `gorm:"type:uuid;index;not null"`
	Titulo   string    `gorm:"not null"`
	Orden    int       `gorm:"not null"`
}

type Question struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SurveyID  uuid.UUID `gorm:"type:uuid;index;not null"`
	SectionID uuid.UUID `gorm:"type:uuid;index"`
	Codigo    string    `gorm:"not null"` // Q1..Q16
	Enunciado string    `gorm:"not null"`
	Orden     int       `gorm:"not null"`
	Tipo      string    `gorm:"not null"` // likert | texto
	Peso      int       `gorm:"default:1;not null"`
}

func (s *Survey) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (s *SurveySection) BeforeCreate(tx *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

func (q *Question) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}
