package utils

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/models"
)

func InitDB(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate applies the schema plus the partial unique indexes AutoMigrate
// cannot express. Shared with the test setup (sqlite).
func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&models.User{},
		&models.Teacher{},
		&models.Survey{},
		&models.SurveySection{},
		&models.Question{},
		&models.SurveyTeacherAssignment{},
		&models.Attempt{},
		&models.Response{},
		&models.AttemptLimit{},
		&models.Turno{},
		&models.AuditLog{},
	)
	if err != nil {
		return err
	}

	// Exactly-once submission per (user, survey, teacher).
	err = db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_attempt_enviado
		ON attempts (user_id, survey_id, teacher_id)
		WHERE estado = 'enviado'`).Error
	if err != nil {
		return err
	}

	// One open turno per user.
	return db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS uq_turno_open
		ON turnos (user_id)
		WHERE status = 'open'`).Error
}
