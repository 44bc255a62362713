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

type AdminController struct {
	DB    *gorm.DB
	Cfg   *config.Config
	Quota *services.QuotaService
}

func NewAdminController(db *gorm.DB, cfg *config.Config, quota *services.QuotaService) *AdminController {
	return &AdminController{DB: db, Cfg: cfg, Quota: quota}
}

// GrantExtra adjusts the administrator-granted extra attempts for a
// (survey, user) pair. Negative deltas revoke; the stored extra never goes
// below zero.
func (ac *AdminController) GrantExtra(c *fiber.Ctx) error {
	admin := middleware.CurrentUser(c)

	type GrantInput struct {
		SurveyID string `json:"survey_id" validate:"required,uuid"`
		UserID   string `json:"user_id" validate:"required,uuid"`
		Extra    int    `json:"extra"`
	}

	var input GrantInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "cannot parse JSON")
	}
	if err := validate.Struct(input); err != nil {
		return utils.BadRequest(c, "survey_id and user_id must be UUIDs")
	}

	surveyID, _ := uuid.Parse(input.SurveyID)
	userID, _ := uuid.Parse(input.UserID)

	view, err := ac.Quota.GrantExtra(surveyID, userID, input.Extra)
	if err != nil {
		return utils.ServiceError(c, err)
	}

	services.Audit(ac.DB, admin.ID, "attempts.extra", fiber.Map{
		"survey_id": surveyID,
		"user_id":   userID,
		"delta":     input.Extra,
		"total":     view.TotalPermitidos,
	})
	return c.JSON(view)
}
