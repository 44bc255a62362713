package utils

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"encuestas/backend/services"
)

// ServiceError maps a service-layer error onto the HTTP response. Every error
// body carries a machine reason and a human-readable message.
func ServiceError(c *fiber.Ctx, err error) error {
	var serr *services.Error
	if errors.As(err, &serr) {
		return c.Status(serr.Status).JSON(fiber.Map{
			"error":   serr.Reason,
			"message": serr.Detail,
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error":   services.ReasonInternal,
		"message": "unexpected error",
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":   services.ReasonValidation,
		"message": message,
	})
}

func Unauthorized(c *fiber.Ctx, message string) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
		"error":   "unauthorized",
		"message": message,
	})
}

func Forbidden(c *fiber.Ctx, reason, message string) error {
	return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
		"error":   reason,
		"message": message,
	})
}
