package middleware

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/models"
	"encuestas/backend/utils"
)

const principalKey = "principal"

func loadPrincipal(c *fiber.Ctx, db *gorm.DB, cfg *config.Config) (*models.User, error) {
	userID, err := utils.ExtractUserIDFromToken(c, cfg)
	if err != nil {
		return nil, err
	}

	var user models.User
	err = db.Where("id = ? AND estado = ?", userID, models.UserActivo).First(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fiber.NewError(fiber.StatusUnauthorized, "user not found or inactive")
	}
	if err != nil {
		return nil, fiber.NewError(fiber.StatusInternalServerError, "could not load user")
	}
	return &user, nil
}

// AuthMiddleware resolves the token into an active user and stores it as the
// request principal. Handlers read it back with CurrentUser, never from raw
// claims.
func AuthMiddleware(db *gorm.DB, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := loadPrincipal(c, db, cfg)
		if err != nil {
			return utils.Unauthorized(c, "invalid or missing token")
		}
		c.Locals(principalKey, user)
		return c.Next()
	}
}

func AdminMiddleware(db *gorm.DB, cfg *config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		user, err := loadPrincipal(c, db, cfg)
		if err != nil {
			return utils.Unauthorized(c, "invalid or missing token")
		}
		if !user.IsAdmin {
			return utils.Forbidden(c, "forbidden", "admin access required")
		}
		c.Locals(principalKey, user)
		return c.Next()
	}
}

// CurrentUser returns the authenticated principal set by AuthMiddleware.
func CurrentUser(c *fiber.Ctx) *models.User {
	user, _ := c.Locals(principalKey).(*models.User)
	return user
}
