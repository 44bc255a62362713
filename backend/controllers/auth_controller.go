package controllers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/middleware"
	"encuestas/backend/models"
	"encuestas/backend/services"
	"encuestas/backend/utils"
)

type AuthController struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Turnos *services.TurnoService
}

func NewAuthController(db *gorm.DB, cfg *config.Config, turnos *services.TurnoService) *AuthController {
	return &AuthController{DB: db, Cfg: cfg, Turnos: turnos}
}

// Login authenticates by institutional email. Before issuing a token it
// checks the lifetime turno cap: a user whose closed turnos reached
// MAX_TURNOS can no longer participate at all.
func (ac *AuthController) Login(c *fiber.Ctx) error {
	type LoginInput struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}

	var input LoginInput
	if err := c.BodyParser(&input); err != nil {
		return utils.BadRequest(c, "cannot parse JSON")
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if !strings.HasSuffix(email, "@"+ac.Cfg.AllowedEmailDomain) {
		return utils.Unauthorized(c, "email not authorized")
	}

	var user models.User
	err := ac.DB.Where("email = ? AND estado = ?", email, models.UserActivo).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.Unauthorized(c, "user not found or inactive")
	}
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not query users",
		})
	}

	// Students authenticate by institutional email alone; admin accounts
	// carry a password.
	if user.IsAdmin {
		err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password))
		if err != nil {
			return utils.Unauthorized(c, "invalid credentials")
		}
	}

	if !user.IsAdmin {
		closed, err := ac.Turnos.ClosedCount(user.ID)
		if err != nil {
			return utils.ServiceError(c, err)
		}
		if closed >= ac.Cfg.MaxTurnos {
			return utils.Forbidden(c, services.ReasonTurnoExhausted,
				fmt.Sprintf("no turnos left to answer the survey (%d used), contact the survey administrator", closed))
		}
	}

	token, err := utils.GenerateJWTToken(user.ID, user.Email, ac.Cfg)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal", "message": "could not generate token",
		})
	}

	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (ac *AuthController) Me(c *fiber.Ctx) error {
	user := middleware.CurrentUser(c)

	roles := []string{}
	if user.IsAdmin {
		roles = append(roles, "admin")
	}
	return c.JSON(fiber.Map{
		"id":     user.ID,
		"email":  user.Email,
		"nombre": user.Nombre,
		"roles":  roles,
	})
}
