package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	JWTSecret  string
	ServerPort string

	// Email domain allowed to log in (e.g. "usco.edu.co")
	AllowedEmailDomain string

	// Attempt validity window in minutes
	AttemptTimeoutMin int
	// Failed/expired sessions allowed per survey by default
	BaseMaxSessions int
	// Lifetime turnos per user
	MaxTurnos int
	// Fixed number of likert questions per survey
	LikertQuestionCount int
	// Max teachers per create-attempts request
	MaxTeachersPerCreate int
}

func LoadConfig() (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("Error loading .env file, using environment variables")
	}

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "5432"),
		DBUser:     getEnv("DB_USER", "postgres"),
		DBPassword: getEnv("DB_PASSWORD", "postgres"),
		DBName:     getEnv("DB_NAME", "encuesta_docente"),
		JWTSecret:  getEnv("JWT_SECRET", "secret"),
		ServerPort: getEnv("SERVER_PORT", "8080"),

		AllowedEmailDomain: getEnv("ALLOWED_EMAIL_DOMAIN", "usco.edu.co"),

		AttemptTimeoutMin:    getEnvInt("ATTEMPT_TIMEOUT_MIN", 30),
		BaseMaxSessions:      getEnvInt("BASE_MAX_SESSIONS", 2),
		MaxTurnos:            getEnvInt("MAX_TURNOS", 2),
		LikertQuestionCount:  getEnvInt("LIKERT_QUESTION_COUNT", 15),
		MaxTeachersPerCreate: getEnvInt("MAX_TEACHERS_PER_CREATE", 20),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
		log.Printf("Invalid value for %s, using default %d", key, defaultValue)
	}
	return defaultValue
}
