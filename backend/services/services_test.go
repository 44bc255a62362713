package services_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"encuestas/backend/config"
	"encuestas/backend/models"
	"encuestas/backend/services"
	"encuestas/backend/utils"
)

func testConfig() *config.Config {
	return &config.Config{
		JWTSecret:            "test-secret",
		AllowedEmailDomain:   "usco.edu.co",
		AttemptTimeoutMin:    30,
		BaseMaxSessions:      2,
		MaxTurnos:            2,
		LikertQuestionCount:  15,
		MaxTeachersPerCreate: 20,
	}
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)
	require.NoError(t, utils.Migrate(db))
	return db
}

func seedUser(t *testing.T, db *gorm.DB, email string) *models.User {
	t.Helper()
	u := models.User{Email: email, Nombre: "Test User", Estado: models.UserActivo}
	require.NoError(t, db.Create(&u).Error)
	return &u
}

// seedSurvey creates an active survey with two sections, 15 likert questions
// (10 in the first section, 5 in the second) and one trailing free-text
// question, plus n assigned teachers.
func seedSurvey(t *testing.T, db *gorm.DB, nTeachers int) (*models.Survey, []models.Question, []models.Teacher) {
	t.Helper()

	survey := models.Survey{Codigo: "2026-1", Nombre: "Evaluación docente 2026-1", Estado: models.SurveyActiva}
	require.NoError(t, db.Create(&survey).Error)

	secA := models.SurveySection{SurveyID: survey.ID, Titulo: "Desempeño docente", Orden: 1}
	secB := models.SurveySection{SurveyID: survey.ID, Titulo: "Evaluación y retroalimentación", Orden: 2}
	require.NoError(t, db.Create(&secA).Error)
	require.NoError(t, db.Create(&secB).Error)

	var questions []models.Question
	for i := 1; i <= 16; i++ {
		q := models.Question{
			SurveyID:  survey.ID,
			Codigo:    fmt.Sprintf("Q%02d", i),
			Enunciado: fmt.Sprintf("Pregunta %d", i),
			Orden:     i,
			Tipo:      models.QuestionLikert,
			Peso:      1,
		}
		switch {
		case i <= 10:
			q.SectionID = secA.ID
		case i <= 15:
			q.SectionID = secB.ID
		default:
			q.SectionID = secB.ID
			q.Tipo = models.QuestionTexto
		}
		require.NoError(t, db.Create(&q).Error)
		questions = append(questions, q)
	}

	var teachers []models.Teacher
	for i := 0; i < nTeachers; i++ {
		tch := models.Teacher{
			Identificador: fmt.Sprintf("T-%03d", i+1),
			Nombre:        fmt.Sprintf("Docente %d", i+1),
			Programa:      "Ingeniería de Sistemas",
			Estado:        models.TeacherActivo,
		}
		require.NoError(t, db.Create(&tch).Error)
		require.NoError(t, db.Create(&models.SurveyTeacherAssignment{
			SurveyID: survey.ID, TeacherID: tch.ID,
		}).Error)
		teachers = append(teachers, tch)
	}

	return &survey, questions, teachers
}

func newServices(t *testing.T) (*gorm.DB, *config.Config, *services.QuotaService, *services.TurnoService, *services.AttemptService) {
	t.Helper()
	db := testDB(t)
	cfg := testConfig()
	quota := services.NewQuotaService(db, cfg)
	turnos := services.NewTurnoService(db, cfg)
	attempts := services.NewAttemptService(db, cfg, quota, turnos)
	return db, cfg, quota, turnos, attempts
}

// likertAnswers builds a full answer set with the given value for every likert
// question in the survey.
func likertAnswers(questions []models.Question, value int) []services.SubmitAnswer {
	var out []services.SubmitAnswer
	for _, q := range questions {
		if q.Tipo != models.QuestionLikert {
			continue
		}
		out = append(out, services.SubmitAnswer{QuestionID: q.ID, Value: value})
	}
	return out
}

func teacherIDs(teachers []models.Teacher) []uuid.UUID {
	ids := make([]uuid.UUID, len(teachers))
	for i, tch := range teachers {
		ids[i] = tch.ID
	}
	return ids
}
