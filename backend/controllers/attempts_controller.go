package controllers

import (
	"encoding/json"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/middleware"
	"encuestas/backend/models"
	"encuestas/backend/services"
	"encuestas/backend/utils"
)

var validate = validator.New()

type AttemptsController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Attempts *services.AttemptService
	Turnos   *services.TurnoService
}

func NewAttemptsController(db *gorm.DB, cfg *config.Config, attempts *services.AttemptService, turnos *services.TurnoService) *AttemptsController {
	return &AttemptsController{DB: db, Cfg: cfg, Attempts: attempts, Turnos: turnos}
}

func attemptOut(att models.Attempt) fiber.Map {
	return fiber.Map{
		"id":          att.ID,
		"survey_id":   att.SurveyID,
		"teacher_id":  att.TeacherID,
		"estado":      att.Estado,
		"intento_nro": att.IntentoNro,
		"expires_at":  att.ExpiresAt,
	}
}

// surveyIDFrom accepts the survey id from the body value, the survey_id query
// parameter or the X-Survey-Id header, in that order.
func surveyIDFrom(c *fiber.Ctx, body string) (uuid.UUID, bool) {
	for _, raw := range []string{body, c.Query("survey_id"), c.Get("X-Survey-Id")} {
		if raw == "" {
			continue
		}
		if id, err := uuid.Parse(raw); err == nil {
			return id, true
		}
	}
	return uuid.Nil, false
}

// CreateAttempts opens attempts for a batch of teachers. Requires an open
// turno, presented through the X-Turno-Id header.
func (ac *AttemptsController) CreateAttempts(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	type CreateInput struct {
		SurveyID   string   `json:"survey_id"`
		TeacherIDs []string `json:"teacher_ids" validate:"required,min=1,dive,uuid"`
	}

	var input CreateInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "cannot parse JSON")
	}
	if err := validate.Struct(input); err != nil {
		return utils.BadRequest(c, "teacher_ids must be a non-empty list of UUIDs")
	}

	surveyID, ok := surveyIDFrom(c, input.SurveyID)
	if !ok {
		return utils.BadRequest(c, "missing survey_id: send it in the body, as ?survey_id= or as X-Survey-Id")
	}

	turnoID, err := uuid.Parse(c.Get("X-Turno-Id"))
	if err != nil {
		return utils.Forbidden(c, services.ReasonTurnoNotOpen, "turno not started (missing X-Turno-Id)")
	}
	if _, err := ac.Turnos.RequireOpen(user.ID, turnoID); err != nil {
		return utils.ServiceError(c, err)
	}

	teacherIDs := make([]uuid.UUID, 0, len(input.TeacherIDs))
	for _, raw := range input.TeacherIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return utils.BadRequest(c, "invalid teacher id "+raw)
		}
		teacherIDs = append(teacherIDs, id)
	}

	attempts, err := ac.Attempts.CreateAttempts(surveyID, user.ID, teacherIDs)
	if err != nil {
		return utils.ServiceError(c, err)
	}

	out := make([]fiber.Map, 0, len(attempts))
	for _, att := range attempts {
		out = append(out, attemptOut(att))
	}
	return c.Status(fiber.StatusCreated).JSON(out)
}

func (ac *AttemptsController) PatchAttempt(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	attemptID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "invalid attempt ID")
	}

	type PatchInput struct {
		Progreso json.RawMessage `json:"progreso"`
		Renew    *bool           `json:"renew"`
	}

	var input PatchInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "cannot parse JSON")
	}

	att, err := ac.Attempts.PatchProgress(attemptID, user.ID, input.Progreso, input.Renew)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(attemptOut(*att))
}

func (ac *AttemptsController) SubmitAttempt(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	attemptID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "invalid attempt ID")
	}

	type SubmitInput struct {
		Answers []services.SubmitAnswer `json:"answers" validate:"required,min=1,dive"`
		Q16     *services.FreeText      `json:"q16"`
		Textos  *services.FreeText      `json:"textos"`
	}

	var input SubmitInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "cannot parse JSON")
	}
	if err := validate.Struct(input); err != nil {
		return utils.BadRequest(c, "answers must be a non-empty list of {question_id, value 1..5}")
	}

	// Older clients send the free text as "textos".
	freeText := input.Q16
	if freeText == nil {
		freeText = input.Textos
	}

	result, err := ac.Attempts.Submit(attemptID, user.ID, input.Answers, freeText)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(result)
}

func (ac *AttemptsController) ListAttempts(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	var surveyID *uuid.UUID
	if raw := c.Query("survey_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return utils.BadRequest(c, "invalid survey_id")
		}
		surveyID = &id
	}

	attempts, err := ac.Attempts.List(user.ID, surveyID)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	out := make([]fiber.Map, 0, len(attempts))
	for _, att := range attempts {
		out = append(out, attemptOut(att))
	}
	return c.JSON(out)
}

func (ac *AttemptsController) GetAttempt(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	attemptID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "invalid attempt ID")
	}

	att, responses, err := ac.Attempts.Get(attemptID, user.ID)
	if err != nil {
		return utils.ServiceError(c, err)
	}

	answers := make([]fiber.Map, 0, len(responses))
	for _, r := range responses {
		answers = append(answers, fiber.Map{
			"question_id": r.QuestionID,
			"value":       r.ValorLikert,
			"texto":       r.Texto,
		})
	}
	return c.JSON(fiber.Map{
		"id":         att.ID,
		"survey_id":  att.SurveyID,
		"teacher_id": att.TeacherID,
		"estado":     att.Estado,
		"expires_at": att.ExpiresAt,
		"answers":    answers,
	})
}

func (ac *AttemptsController) CurrentAttempt(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}

	att, serr := ac.Attempts.Current(surveyID, user.ID)
	if serr != nil {
		return utils.ServiceError(c, serr)
	}
	if att == nil {
		return c.JSON(fiber.Map{"status": "empty"})
	}

	var teacher models.Teacher
	ac.DB.First(&teacher, "id = ?", att.TeacherID)
	return c.JSON(fiber.Map{
		"attempt_id":     att.ID,
		"teacher_id":     att.TeacherID,
		"teacher_nombre": teacher.Nombre,
		"expires_at":     att.ExpiresAt,
		"intento_nro":    att.IntentoNro,
	})
}

func (ac *AttemptsController) NextAttempt(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}

	att, serr := ac.Attempts.Next(surveyID, user.ID)
	if serr != nil {
		return utils.ServiceError(c, serr)
	}
	if att == nil {
		return c.SendStatus(fiber.StatusNoContent)
	}

	var teacher models.Teacher
	ac.DB.First(&teacher, "id = ?", att.TeacherID)
	return c.JSON(fiber.Map{
		"survey_id":      att.SurveyID,
		"teacher_id":     att.TeacherID,
		"teacher_nombre": teacher.Nombre,
		"attempt_id":     att.ID,
		"expires_at":     att.ExpiresAt,
		"intento_nro":    att.IntentoNro,
	})
}

func (ac *AttemptsController) Summary(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}

	summary, serr := ac.Attempts.Summary(surveyID, user.ID)
	if serr != nil {
		return utils.ServiceError(c, serr)
	}
	return c.JSON(summary)
}

func (ac *AttemptsController) Quota(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)
	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}

	quota, serr := ac.Attempts.QuotaSummary(surveyID, user.ID)
	if serr != nil {
		return utils.ServiceError(c, serr)
	}
	return c.JSON(quota)
}

// ResetAttempts purges expired/failed rows for a (survey, user) pair. Admin.
func (ac *AttemptsController) ResetAttempts(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)

	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}
	userID, err := uuid.Parse(c.Query("user_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid user_id")
	}

	if err := ac.Attempts.Reset(surveyID, userID); err != nil {
		return utils.ServiceError(c, err)
	}
	services.Audit(ac.DB, admin.ID, "attempts.reset", fiber.Map{
		"survey_id": surveyID,
		"user_id":   userID,
	})
	return c.JSON(fiber.Map{"ok": true})
}
