package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/models"
)

type TurnoService struct {
	DB  *gorm.DB
	Cfg *config.Config
}

func NewTurnoService(db *gorm.DB, cfg *config.Config) *TurnoService {
	return &TurnoService{DB: db, Cfg: cfg}
}

type TurnoView struct {
	TurnoID   *uuid.UUID `json:"turno_id"`
	Remaining int        `json:"remaining"`
}

type TurnoQuota struct {
	Used      int `json:"used"`
	Limit     int `json:"limit"`
	Remaining int `json:"remaining"`
}

func (ts *TurnoService) openTurno(tx *gorm.DB, userID uuid.UUID) (*models.Turno, error) {
	var t models.Turno
	err := tx.Where("user_id = ? AND status = ?", userID, models.TurnoOpen).
		Order("opened_at DESC").
		First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("could not query turnos")
	}
	return &t, nil
}

func (ts *TurnoService) lifetimeCount(tx *gorm.DB, userID uuid.UUID) (int, error) {
	var n int64
	if err := tx.Model(&models.Turno{}).Where("user_id = ?", userID).Count(&n).Error; err != nil {
		return 0, Internal("could not count turnos")
	}
	return int(n), nil
}

// ClosedCount counts consumed turnos; the login path refuses to issue a token
// once it reaches the lifetime cap.
func (ts *TurnoService) ClosedCount(userID uuid.UUID) (int, error) {
	var n int64
	err := ts.DB.Model(&models.Turno{}).
		Where("user_id = ? AND status = ?", userID, models.TurnoClosed).
		Count(&n).Error
	if err != nil {
		return 0, Internal("could not count turnos")
	}
	return int(n), nil
}

// Open returns the user's open turno if one exists (idempotent), otherwise
// creates a new one as long as the lifetime count stays below MAX_TURNOS.
func (ts *TurnoService) Open(userID uuid.UUID) (*models.Turno, int, error) {
	var turno *models.Turno
	var remaining int
	err := ts.DB.Transaction(func(tx *gorm.DB) error {
		existing, err := ts.openTurno(tx, userID)
		if err != nil {
			return err
		}
		used, err := ts.lifetimeCount(tx, userID)
		if err != nil {
			return err
		}
		if existing != nil {
			turno = existing
			remaining = max(0, ts.Cfg.MaxTurnos-used)
			return nil
		}
		if used >= ts.Cfg.MaxTurnos {
			return Forbidden(ReasonTurnoExhausted,
				fmt.Sprintf("you have used all %d turnos", ts.Cfg.MaxTurnos))
		}

		t := models.Turno{UserID: userID, Status: models.TurnoOpen}
		if err := tx.Create(&t).Error; err != nil {
			// The partial unique index (one open turno per user) rejects a
			// concurrent open; surface it as a conflict.
			return Conflict(ReasonConflict, "a turno is already open for this user")
		}
		turno = &t
		remaining = max(0, ts.Cfg.MaxTurnos-used-1)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return turno, remaining, nil
}

// RequireOpen guards turno-gated operations: the caller must present the id of
// an open turno it owns.
func (ts *TurnoService) RequireOpen(userID, turnoID uuid.UUID) (*models.Turno, error) {
	var t models.Turno
	err := ts.DB.Where("id = ? AND user_id = ? AND status = ?",
		turnoID, userID, models.TurnoOpen).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, Forbidden(ReasonTurnoNotOpen, "turno is invalid or closed")
	}
	if err != nil {
		return nil, Internal("could not query turnos")
	}
	return &t, nil
}

// Close ends a turno explicitly. Idempotent if already closed.
func (ts *TurnoService) Close(userID, turnoID uuid.UUID) error {
	var t models.Turno
	err := ts.DB.Where("id = ? AND user_id = ?", turnoID, userID).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("turno not found")
	}
	if err != nil {
		return Internal("could not query turnos")
	}
	if t.Status == models.TurnoClosed {
		return nil
	}
	now := time.Now().UTC()
	t.Status = models.TurnoClosed
	t.ClosedAt = &now
	if err := ts.DB.Save(&t).Error; err != nil {
		return Internal("could not close turno")
	}
	return nil
}

// CloseIfIdle closes the user's latest open turno once no live attempts remain
// for the survey. Called after a successful submit; business completion, not a
// client action.
func (ts *TurnoService) CloseIfIdle(userID, surveyID uuid.UUID) error {
	now := time.Now().UTC()
	var open int64
	err := ts.DB.Model(&models.Attempt{}).
		Where("user_id = ? AND survey_id = ? AND estado = ?", userID, surveyID, models.AttemptEnProgreso).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Count(&open).Error
	if err != nil {
		return Internal("could not count open attempts")
	}
	if open > 0 {
		return nil
	}

	t, err := ts.openTurno(ts.DB, userID)
	if err != nil || t == nil {
		return err
	}
	t.Status = models.TurnoClosed
	t.ClosedAt = &now
	if err := ts.DB.Save(t).Error; err != nil {
		return Internal("could not close turno")
	}
	return nil
}

type SessionCloseView struct {
	SurveyID   uuid.UUID `json:"survey_id"`
	Closed     bool      `json:"closed"`
	Enviados   int       `json:"enviados"`
	EnProgreso int       `json:"en_progreso"`
	Expirados  int       `json:"expirados"`
	Fallidos   int       `json:"fallidos"`
	ClosedAt   time.Time `json:"closed_at"`
}

// CloseSession closes the user's logical turn for a survey: sweeps expiry,
// refuses while teachers are still in progress, then closes the open turno.
func (ts *TurnoService) CloseSession(attempts *AttemptService, surveyID, userID uuid.UUID) (*SessionCloseView, error) {
	if _, err := attempts.ExpireStale(ts.DB, surveyID, userID); err != nil {
		return nil, err
	}

	counts, err := attempts.stateCounts(ts.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}
	if counts[models.AttemptEnProgreso] > 0 {
		return nil, Conflict(ReasonConflict,
			"teachers still in progress; finish or let them expire before closing the turno")
	}

	t, err := ts.openTurno(ts.DB, userID)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if t != nil {
		t.Status = models.TurnoClosed
		t.ClosedAt = &now
		if err := ts.DB.Save(t).Error; err != nil {
			return nil, Internal("could not close turno")
		}
	}

	return &SessionCloseView{
		SurveyID:   surveyID,
		Closed:     true,
		Enviados:   counts[models.AttemptEnviado],
		EnProgreso: counts[models.AttemptEnProgreso],
		Expirados:  counts[models.AttemptExpirado],
		Fallidos:   counts[models.AttemptFallido],
		ClosedAt:   now,
	}, nil
}

// Current reports the open turno (if any) and the remaining lifetime quota.
func (ts *TurnoService) Current(userID uuid.UUID) (*TurnoView, error) {
	t, err := ts.openTurno(ts.DB, userID)
	if err != nil {
		return nil, err
	}
	used, err := ts.lifetimeCount(ts.DB, userID)
	if err != nil {
		return nil, err
	}
	view := &TurnoView{Remaining: max(0, ts.Cfg.MaxTurnos-used)}
	if t != nil {
		view.TurnoID = &t.ID
	}
	return view, nil
}

func (ts *TurnoService) Quota(userID uuid.UUID) (*TurnoQuota, error) {
	used, err := ts.lifetimeCount(ts.DB, userID)
	if err != nil {
		return nil, err
	}
	return &TurnoQuota{
		Used:      used,
		Limit:     ts.Cfg.MaxTurnos,
		Remaining: max(0, ts.Cfg.MaxTurnos-used),
	}, nil
}
