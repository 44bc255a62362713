package routes

import (
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/controllers"
	"encuestas/backend/middleware"
	"encuestas/backend/services"
)

func SetupRoutes(app *fiber.App, db *gorm.DB, cfg *config.Config) {
	quota := services.NewQuotaService(db, cfg)
	turnos := services.NewTurnoService(db, cfg)
	attempts := services.NewAttemptService(db, cfg, quota, turnos)

	authMiddleware := middleware.AuthMiddleware(db, cfg)
	adminMiddleware := middleware.AdminMiddleware(db, cfg)

	api := app.Group("/api/v1")

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// Auth routes
	authController := controllers.NewAuthController(db, cfg, turnos)
	api.Post("/auth/login", authController.Login)
	api.Get("/auth/me", authMiddleware, authController.Me)

	// Attempt routes. Fixed paths go before /attempts/:id.
	attemptsController := controllers.NewAttemptsController(db, cfg, attempts, turnos)
	att := api.Group("/attempts", authMiddleware)
	att.Get("/summary", attemptsController.Summary)
	att.Get("/next", attemptsController.NextAttempt)
	att.Get("/current", attemptsController.CurrentAttempt)
	att.Get("/quota", attemptsController.Quota)
	att.Post("/admin/reset", adminMiddleware, attemptsController.ResetAttempts)
	att.Get("/", attemptsController.ListAttempts)
	att.Post("/", attemptsController.CreateAttempts)
	att.Get("/:id", attemptsController.GetAttempt)
	att.Patch("/:id", attemptsController.PatchAttempt)
	att.Post("/:id/submit", attemptsController.SubmitAttempt)

	// Session / turno routes
	sessionsController := controllers.NewSessionsController(db, cfg, turnos, attempts)
	sessions := api.Group("/sessions", authMiddleware)
	sessions.Post("/close", sessionsController.CloseSession)
	sessions.Post("/turno/open", sessionsController.OpenTurno)
	sessions.Post("/turno/close", sessionsController.CloseTurno)
	sessions.Get("/turno/current", sessionsController.CurrentTurno)
	sessions.Get("/turno/quota", sessionsController.TurnoQuota)

	// Catalog routes
	catalogsController := controllers.NewCatalogsController(db, cfg)
	api.Get("/surveys/activas", catalogsController.ListActiveSurveys)
	api.Get("/surveys/by-codigo/:codigo", catalogsController.SurveyByCodigo)
	api.Get("/surveys/:id/questions", authMiddleware, catalogsController.ListQuestions)
	api.Get("/surveys/:id/teachers", authMiddleware, catalogsController.ListTeachers)

	// Admin routes
	adminController := controllers.NewAdminController(db, cfg, quota)
	admin := api.Group("/admin", adminMiddleware)
	admin.Post("/attempts/extra", adminController.GrantExtra)
}
