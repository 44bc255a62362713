package services

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/models"
)

// Bound on a single administrative grant, to catch fat-fingered deltas.
const maxGrantDelta = 100

type QuotaService struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewQuotaService(db *gorm.DB, cfg *config.Config) *QuotaService {
	return &QuotaService{DB: db, Cfg: cfg}
}

type LimitsView struct {
	SurveyID        uuid.UUID `json:"survey_id"`
	UserID          uuid.UUID `json:"user_id"`
	MaxIntentos     int       `json:"max_intentos"`
	ExtraOtorgados  int       `json:"extra_otorgados"`
	TotalPermitidos int       `json:"total_permitidos"`
}

// MaxAllowed returns the failed-session budget for (survey, user): the stored
// base (or the system default when absent/null) plus any non-negative extra.
func (qs *QuotaService) MaxAllowed(tx *gorm.DB, surveyID, userID uuid.UUID) (int, error) {
	var row models.AttemptLimit
	err := tx.Where("survey_id = ? AND user_id = ?", surveyID, userID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return qs.Cfg.BaseMaxSessions, nil
	}
	if err != nil {
		return 0, Internal("could not query attempt limits")
	}

	base := qs.Cfg.BaseMaxSessions
	if row.MaxIntentos != nil {
		base = *row.MaxIntentos
	}
	extra := row.ExtraOtorgados
	if extra < 0 {
		extra = 0
	}
	return base + extra, nil
}

// UsedFailures counts attempts in terminal failure states. Raw rows, not
// distinct ordinals: every failed per-teacher attempt consumes a budget unit.
func (qs *QuotaService) UsedFailures(tx *gorm.DB, surveyID, userID uuid.UUID) (int, error) {
	var n int64
	err := tx.Model(&models.Attempt{}).
		Where("survey_id = ? AND user_id = ? AND estado IN ?",
			surveyID, userID, []string{models.AttemptExpirado, models.AttemptFallido}).
		Count(&n).Error
	if err != nil {
		return 0, Internal("could not count failed attempts")
	}
	return int(n), nil
}

// GrantExtra adjusts the administrator-granted extra by delta, creating the
// limits row lazily and clamping the result at zero. The increment runs as a
// single UPDATE expression against the current row value, so two concurrent
// grants serialize on the row lock instead of racing a read-modify-write.
func (qs *QuotaService) GrantExtra(surveyID, userID uuid.UUID, delta int) (*LimitsView, error) {
	if delta < -maxGrantDelta || delta > maxGrantDelta {
		return nil, Validation(fmt.Sprintf("extra delta %d out of range [-%d, %d]", delta, maxGrantDelta, maxGrantDelta))
	}

	var view *LimitsView
	err := qs.DB.Transaction(func(tx *gorm.DB) error {
		var row models.AttemptLimit
		err := tx.Where("survey_id = ? AND user_id = ?", surveyID, userID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			row = models.AttemptLimit{SurveyID: surveyID, UserID: userID}
			if err := tx.Create(&row).Error; err != nil {
				return Internal("could not create attempt limit")
			}
		} else if err != nil {
			return Internal("could not query attempt limits")
		}

		err = tx.Model(&models.AttemptLimit{}).
			Where("survey_id = ? AND user_id = ?", surveyID, userID).
			Update("extra_otorgados", gorm.Expr(
				"CASE WHEN extra_otorgados + ? < 0 THEN 0 ELSE extra_otorgados + ? END",
				delta, delta)).Error
		if err != nil {
			return Internal("could not update attempt limit")
		}

		if err := tx.Where("survey_id = ? AND user_id = ?", surveyID, userID).First(&row).Error; err != nil {
			return Internal("could not query attempt limits")
		}

		base := qs.Cfg.BaseMaxSessions
		if row.MaxIntentos != nil {
			base = *row.MaxIntentos
		}
		view = &LimitsView{
			SurveyID:        row.SurveyID,
			UserID:          row.UserID,
			MaxIntentos:     base,
			ExtraOtorgados:  row.ExtraOtorgados,
			TotalPermitidos: base + row.ExtraOtorgados,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return view, nil
}
