package models

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	TeacherActivo   = "activo"
	TeacherInactivo = "inactivo"
)

type Teacher struct {
	ID            uuid.UUID `gorm:"type:uuid;primaryKey"`
	Identificador string    `gorm:"unique;not null"`
	Nombre        string    `gorm:"not null"`
	Programa      string
	Estado        string `gorm:"default:activo;index"`
}

type SurveyTeacherAssignment struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	SurveyID  uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:uq_survey_teacher"`
	TeacherID uuid.UUID `gorm:"type:uuid;index;not null;uniqueIndex:uq_survey_teacher"`
}

func (t *Teacher) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (a *SurveyTeacherAssignment) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
