package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/middleware"
	"encuestas/backend/services"
	"encuestas/backend/utils"
)

type SessionsController struct {
	DB       *gorm.DB
	Cfg      *config.Config
	Turnos   *services.TurnoService
	Attempts *services.AttemptService
}

func NewSessionsController(db *gorm.DB, cfg *config.Config, turnos *services.TurnoService, attempts *services.AttemptService) *SessionsController {
	return &SessionsController{DB: db, Cfg: cfg, Turnos: turnos, Attempts: attempts}
}

// CloseSession closes the logical turn for a survey when no attempts remain
// in progress.
func (sc *SessionsController) CloseSession(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	surveyID, err := uuid.Parse(c.Query("survey_id"))
	if err != nil {
		return utils.BadRequest(c, "missing or invalid survey_id")
	}

	view, serr := sc.Turnos.CloseSession(sc.Attempts, surveyID, user.ID)
	if serr != nil {
		return utils.ServiceError(c, serr)
	}
	return c.JSON(view)
}

// OpenTurno opens (or reuses) the user's turno. Idempotent while one is open.
func (sc *SessionsController) OpenTurno(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	turno, remaining, err := sc.Turnos.Open(user.ID)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(fiber.Map{
		"turno_id":  turno.ID,
		"remaining": remaining,
	})
}

func (sc *SessionsController) CloseTurno(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	turnoID, err := uuid.Parse(c.Get("X-Turno-Id"))
	if err != nil {
		return utils.BadRequest(c, "missing X-Turno-Id header")
	}

	if err := sc.Turnos.Close(user.ID, turnoID); err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (sc *SessionsController) CurrentTurno(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	view, err := sc.Turnos.Current(user.ID)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(view)
}

func (sc *SessionsController) TurnoQuota(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	quota, err := sc.Turnos.Quota(user.ID)
	if err != nil {
		return utils.ServiceError(c, err)
	}
	return c.JSON(quota)
}
