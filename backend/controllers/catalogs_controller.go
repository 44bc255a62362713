package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/middleware"
	"encuestas/backend/models"
	"encuestas/backend/utils"
)

// CatalogsController exposes the read models feeding the voting UI: active
// surveys, their questions and their assigned teachers.
type CatalogsController struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewCatalogsController(db *gorm.DB, cfg *config.Config) *CatalogsController {
	return &CatalogsController{DB: db, Cfg: cfg}
}

func (cc *CatalogsController) ListActiveSurveys(c *fiber.Ctx) error {
	q := cc.DB.Model(&models.Survey{}).Where("estado = ?", models.SurveyActiva)

	if raw := c.Query("hoy"); raw != "" {
		hoy, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return utils.BadRequest(c, "hoy must be YYYY-MM-DD")
		}
		q = q.Where("(fecha_inicio IS NULL OR fecha_inicio <= ?)", hoy).
			Where("(fecha_fin IS NULL OR fecha_fin >= ?)", hoy)
	}

	var surveys []models.Survey
	if err := q.Order("fecha_inicio ASC, nombre ASC").Find(&surveys).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query surveys",
		})
	}

	out := make([]fiber.Map, 0, len(surveys))
	for _, s := range surveys {
		out = append(out, fiber.Map{
			"id":           s.ID,
			"codigo":       s.Codigo,
			"nombre":       s.Nombre,
			"estado":       s.Estado,
			"fecha_inicio": s.FechaInicio,
			"fecha_fin":    s.FechaFin,
		})
	}
	return c.JSON(out)
}

func (cc *CatalogsController) SurveyByCodigo(c *fiber.Ctx) error {
	var survey models.Survey
	err := cc.DB.Where("codigo = ?", c.Params("codigo")).First(&survey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found", "message": "survey not found",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query surveys",
		})
	}
	return c.JSON(fiber.Map{
		"id":           survey.ID,
		"codigo":       survey.Codigo,
		"nombre":       survey.Nombre,
		"estado":       survey.Estado,
		"fecha_inicio": survey.FechaInicio,
		"fecha_fin":    survey.FechaFin,
	})
}

func (cc *CatalogsController) ListQuestions(c *fiber.Ctx) error {
	surveyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "invalid survey ID")
	}

	var rows []struct {
		models.Question
		Section string
	}
	err = cc.DB.Model(&models.Question{}).
		Select("questions.*, survey_sections.titulo AS section").
		Joins("JOIN survey_sections ON survey_sections.id = questions.section_id").
		Where("questions.survey_id = ?", surveyID).
		Order("questions.orden ASC").
		Scan(&rows).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query questions",
		})
	}

	out := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		out = append(out, fiber.Map{
			"id":        r.ID,
			"codigo":    r.Codigo,
			"enunciado": r.Enunciado,
			"orden":     r.Orden,
			"tipo":      r.Tipo,
			"peso":      r.Peso,
			"section":   r.Section,
		})
	}
	return c.JSON(out)
}

// ListTeachers lists teachers assigned to an active survey. With
// include_state each row carries an 'evaluated' flag for the caller; with
// hide_evaluated already-submitted teachers are filtered out.
func (cc *CatalogsController) ListTeachers(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	surveyID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return utils.BadRequest(c, "invalid survey ID")
	}

	var survey models.Survey
	err = cc.DB.Where("id = ? AND estado = ?", surveyID, models.SurveyActiva).First(&survey).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error": "not_found", "message": "survey not found or inactive",
		})
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query surveys",
		})
	}

	limit := c.QueryInt("limit", 50)
	if limit < 1 || limit > 200 {
		limit = 50
	}
	offset := c.QueryInt("offset", 0)
	if offset < 0 {
		offset = 0
	}
	hideEvaluated := c.QueryBool("hide_evaluated", false)
	includeState := c.QueryBool("include_state", true)

	evaluated := cc.DB.Model(&models.Attempt{}).
		Select("DISTINCT teacher_id").
		Where("survey_id = ? AND user_id = ? AND estado = ?", surveyID, user.ID, models.AttemptEnviado)

	q := cc.DB.Model(&models.Teacher{}).
		Joins("JOIN survey_teacher_assignments sta ON sta.teacher_id = teachers.id").
		Where("sta.survey_id = ?", surveyID)

	if search := c.Query("q"); search != "" {
		like := "%" + search + "%"
		q = q.Where("teachers.nombre LIKE ? OR teachers.identificador LIKE ? OR COALESCE(teachers.programa, '') LIKE ?",
			like, like, like)
	}
	if hideEvaluated {
		q = q.Where("teachers.id NOT IN (?)", evaluated)
	}

	var rows []struct {
		models.Teacher
		Evaluated bool
	}
	sel := "teachers.*"
	if includeState {
		sel = "teachers.*, (SELECT COUNT(*) FROM attempts a WHERE a.teacher_id = teachers.id AND a.survey_id = sta.survey_id AND a.user_id = ? AND a.estado = 'enviado') > 0 AS evaluated"
		q = q.Select(sel, user.ID)
	} else {
		q = q.Select(sel)
	}

	err = q.Order("teachers.nombre ASC").Limit(limit).Offset(offset).Scan(&rows).Error
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query teachers",
		})
	}

	out := make([]fiber.Map, 0, len(rows))
	for _, r := range rows {
		item := fiber.Map{
			"id":            r.ID,
			"identificador": r.Identificador,
			"nombre":        r.Nombre,
			"programa":      r.Programa,
			"estado":        r.Estado,
		}
		if includeState {
			item["evaluated"] = r.Evaluated
		}
		out = append(out, item)
	}
	return c.JSON(out)
}
