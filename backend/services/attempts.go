package services

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"encuestas/backend/config"
	"encuestas/backend/models"
)

type AttemptService struct {
	DB     *gorm.DB
	Cfg    *config.Config
	Quota  *QuotaService
	Turnos *TurnoService
}

func NewAttemptService(db *gorm.DB, cfg *config.Config, quota *QuotaService, turnos *TurnoService) *AttemptService {
	return &AttemptService{DB: db, Cfg: cfg, Quota: quota, Turnos: turnos}
}

func (as *AttemptService) timeout() time.Duration {
	return time.Duration(as.Cfg.AttemptTimeoutMin) * time.Minute
}

// ExpireStale flips every overdue en_progreso attempt of the pair to expirado
// in one batch UPDATE. Every entry point runs this before trusting attempt
// state. Idempotent; the second sweep in a row affects zero rows.
func (as *AttemptService) ExpireStale(tx *gorm.DB, surveyID, userID uuid.UUID) (int64, error) {
	now := time.Now().UTC()
	res := tx.Model(&models.Attempt{}).
		Where("survey_id = ? AND user_id = ? AND estado = ?", surveyID, userID, models.AttemptEnProgreso).
		Where("expires_at IS NOT NULL AND expires_at <= ?", now).
		Update("estado", models.AttemptExpirado)
	if res.Error != nil {
		return 0, Internal("could not expire stale attempts")
	}
	return res.RowsAffected, nil
}

func (as *AttemptService) stateCounts(tx *gorm.DB, surveyID, userID uuid.UUID) (map[string]int, error) {
	var rows []struct {
		Estado string
		N      int
	}
	err := tx.Model(&models.Attempt{}).
		Select("estado, COUNT(id) AS n").
		Where("survey_id = ? AND user_id = ?", surveyID, userID).
		Group("estado").
		Scan(&rows).Error
	if err != nil {
		return nil, Internal("could not count attempts by state")
	}
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.Estado] = r.N
	}
	return counts, nil
}

// CreateAttempts opens (or re-acquires) one attempt per requested teacher.
// The whole batch runs in a single transaction: either every teacher gets an
// attempt or none does.
func (as *AttemptService) CreateAttempts(surveyID, userID uuid.UUID, teacherIDs []uuid.UUID) ([]models.Attempt, error) {
	if len(teacherIDs) == 0 {
		return nil, Validation("teacher_ids must not be empty")
	}
	if len(teacherIDs) > as.Cfg.MaxTeachersPerCreate {
		return nil, Validation(fmt.Sprintf("at most %d teachers per request", as.Cfg.MaxTeachersPerCreate))
	}

	var result []models.Attempt
	err := as.DB.Transaction(func(tx *gorm.DB) error {
		var survey models.Survey
		err := tx.Where("id = ? AND estado = ?", surveyID, models.SurveyActiva).First(&survey).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFound("survey not found or inactive")
		}
		if err != nil {
			return Internal("could not query surveys")
		}

		if _, err := as.ExpireStale(tx, surveyID, userID); err != nil {
			return err
		}

		fails, err := as.Quota.UsedFailures(tx, surveyID, userID)
		if err != nil {
			return err
		}
		maxAllowed, err := as.Quota.MaxAllowed(tx, surveyID, userID)
		if err != nil {
			return err
		}
		if fails >= maxAllowed {
			return Forbidden(ReasonQuotaExceeded, "failed attempt limit reached for this survey")
		}

		// Active teachers assigned to this survey, id -> nombre.
		var assigned []struct {
			ID     uuid.UUID
			Nombre string
		}
		err = tx.Model(&models.Teacher{}).
			Select("teachers.id, teachers.nombre").
			Joins("JOIN survey_teacher_assignments sta ON sta.teacher_id = teachers.id").
			Where("sta.survey_id = ? AND teachers.estado = ?", surveyID, models.TeacherActivo).
			Scan(&assigned).Error
		if err != nil {
			return Internal("could not query survey teachers")
		}
		valid := make(map[uuid.UUID]string, len(assigned))
		for _, t := range assigned {
			valid[t.ID] = t.Nombre
		}
		for _, tid := range teacherIDs {
			if _, ok := valid[tid]; !ok {
				return Validation(fmt.Sprintf("teacher %s is not assigned to this survey", tid))
			}
		}

		intentoNro := fails + 1
		now := time.Now().UTC()
		expires := now.Add(as.timeout())

		for _, tid := range teacherIDs {
			var sent int64
			err := tx.Model(&models.Attempt{}).
				Where("survey_id = ? AND user_id = ? AND teacher_id = ? AND estado = ?",
					surveyID, userID, tid, models.AttemptEnviado).
				Count(&sent).Error
			if err != nil {
				return Internal("could not query attempts")
			}
			if sent > 0 {
				return Conflict(ReasonAlreadySubmitted,
					fmt.Sprintf("teacher '%s' was already evaluated by this user", valid[tid]))
			}

			// Reuse a live in-progress attempt for the same teacher.
			var existing models.Attempt
			err = tx.Where("survey_id = ? AND user_id = ? AND teacher_id = ? AND estado = ?",
				surveyID, userID, tid, models.AttemptEnProgreso).
				Where("expires_at IS NULL OR expires_at > ?", now).
				First(&existing).Error
			if err == nil {
				result = append(result, existing)
				continue
			}
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				return Internal("could not query attempts")
			}

			// Defensive re-check: a stale row may have appeared since the
			// sweep. Expire it, re-evaluate the quota gate, advance ordinal.
			stale := tx.Model(&models.Attempt{}).
				Where("survey_id = ? AND user_id = ? AND teacher_id = ? AND estado = ?",
					surveyID, userID, tid, models.AttemptEnProgreso).
				Where("expires_at IS NOT NULL AND expires_at <= ?", now).
				Update("estado", models.AttemptExpirado)
			if stale.Error != nil {
				return Internal("could not expire stale attempts")
			}
			if stale.RowsAffected > 0 {
				fails, err = as.Quota.UsedFailures(tx, surveyID, userID)
				if err != nil {
					return err
				}
				maxAllowed, err = as.Quota.MaxAllowed(tx, surveyID, userID)
				if err != nil {
					return err
				}
				if fails >= maxAllowed {
					return Forbidden(ReasonQuotaExceeded, "failed attempt limit reached for this survey")
				}
				intentoNro = fails + 1
			}

			att := models.Attempt{
				SurveyID:   surveyID,
				UserID:     userID,
				TeacherID:  tid,
				IntentoNro: intentoNro,
				Estado:     models.AttemptEnProgreso,
				ExpiresAt:  &expires,
			}
			if err := tx.Create(&att).Error; err != nil {
				return Internal("could not create attempt")
			}
			result = append(result, att)
		}
		return nil
	})
	if err != nil {
		result = nil
		return nil, err
	}
	return result, nil
}

// PatchProgress stores partial progress and, unless renew is false, restarts
// the expiry window.
func (as *AttemptService) PatchProgress(attemptID, userID uuid.UUID, progreso json.RawMessage, renew *bool) (*models.Attempt, error) {
	var att models.Attempt
	err := as.DB.Where("id = ? AND user_id = ?", attemptID, userID).First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NotFound("attempt not found")
	}
	if err != nil {
		return nil, Internal("could not query attempts")
	}
	if att.Estado != models.AttemptEnProgreso {
		return nil, Conflict(ReasonNotEditable, fmt.Sprintf("not editable in state %s", att.Estado))
	}

	if progreso != nil {
		att.ProgresoJSON = datatypes.JSON(progreso)
	}
	if renew == nil || *renew {
		expires := time.Now().UTC().Add(as.timeout())
		att.ExpiresAt = &expires
	}
	if err := as.DB.Save(&att).Error; err != nil {
		return nil, Internal("could not update attempt")
	}
	return &att, nil
}

type SubmitAnswer struct {
	QuestionID uuid.UUID `json:"question_id" validate:"required"`
	Value      int       `json:"value" validate:"required,min=1,max=5"`
}

type FreeText struct {
	Positivos   string `json:"positivos"`
	Mejorar     string `json:"mejorar"`
	Comentarios string `json:"comentarios"`
}

func (ft *FreeText) empty() bool {
	return ft == nil || (ft.Positivos == "" && ft.Mejorar == "" && ft.Comentarios == "")
}

type SubmitResult struct {
	Estado string      `json:"estado"`
	Scores ScoreBundle `json:"scores"`
}

// Submit finalizes an attempt: validates the answer set against the survey's
// likert questions, replaces stored responses, computes the score bundle and
// flips the attempt to enviado. Double submission is a hard 409.
func (as *AttemptService) Submit(attemptID, userID uuid.UUID, answers []SubmitAnswer, textos *FreeText) (*SubmitResult, error) {
	var result *SubmitResult
	var surveyID uuid.UUID

	err := as.DB.Transaction(func(tx *gorm.DB) error {
		var att models.Attempt
		err := tx.Where("id = ? AND user_id = ?", attemptID, userID).First(&att).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return NotFound("attempt not found")
		}
		if err != nil {
			return Internal("could not query attempts")
		}
		surveyID = att.SurveyID

		if att.Estado == models.AttemptEnviado {
			return Conflict(ReasonAlreadySubmitted, "attempt was already submitted")
		}
		now := time.Now().UTC()
		if att.ExpiresAt != nil && now.After(*att.ExpiresAt) {
			att.Estado = models.AttemptExpirado
			if err := tx.Save(&att).Error; err != nil {
				return Internal("could not expire attempt")
			}
			return Conflict(ReasonExpired,
				fmt.Sprintf("attempt expired (%d min)", as.Cfg.AttemptTimeoutMin))
		}

		var questions []models.Question
		if err := tx.Where("survey_id = ?", att.SurveyID).Find(&questions).Error; err != nil {
			return Internal("could not query questions")
		}
		var likert []models.Question
		for _, q := range questions {
			if q.Tipo == models.QuestionLikert {
				likert = append(likert, q)
			}
		}
		if len(likert) != as.Cfg.LikertQuestionCount {
			return Configuration(fmt.Sprintf("expected %d likert questions, survey has %d",
				as.Cfg.LikertQuestionCount, len(likert)))
		}

		values := make(map[uuid.UUID]int, len(answers))
		for _, a := range answers {
			if a.Value < 1 || a.Value > 5 {
				return Validation(fmt.Sprintf("invalid value %d for question %s", a.Value, a.QuestionID))
			}
			values[a.QuestionID] = a.Value
		}
		var missing []string
		for _, q := range likert {
			if _, ok := values[q.ID]; !ok {
				missing = append(missing, q.Codigo)
			}
		}
		if len(missing) > 0 {
			sort.Strings(missing)
			return Validation(fmt.Sprintf("missing answers for questions: %v", missing))
		}

		// Replace, don't upsert.
		if err := tx.Where("attempt_id = ?", att.ID).Delete(&models.Response{}).Error; err != nil {
			return Internal("could not clear previous responses")
		}
		for _, q := range likert {
			v := values[q.ID]
			resp := models.Response{AttemptID: att.ID, QuestionID: q.ID, ValorLikert: &v}
			if err := tx.Create(&resp).Error; err != nil {
				return Internal("could not store response")
			}
		}

		if !textos.empty() {
			if textQ := firstTextQuestion(questions); textQ != nil {
				blob, err := json.Marshal(textos)
				if err != nil {
					return Internal("could not encode free text")
				}
				resp := models.Response{AttemptID: att.ID, QuestionID: textQ.ID, Texto: datatypes.JSON(blob)}
				if err := tx.Create(&resp).Error; err != nil {
					return Internal("could not store free text response")
				}
			}
		}

		var sections []models.SurveySection
		if err := tx.Where("survey_id = ?", att.SurveyID).Order("orden ASC").Find(&sections).Error; err != nil {
			return Internal("could not query sections")
		}
		bundle := Score(likert, sections, values)

		att.Estado = models.AttemptEnviado
		if err := tx.Save(&att).Error; err != nil {
			// The partial unique index on (user, survey, teacher) scoped to
			// enviado is the last line of defense against a concurrent submit.
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return Conflict(ReasonAlreadySubmitted, "teacher was already evaluated by this user")
			}
			return Internal("could not submit attempt")
		}

		result = &SubmitResult{Estado: models.AttemptEnviado, Scores: bundle}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Business completion side effect: drain of in-progress work consumes the
	// turno.
	if err := as.Turnos.CloseIfIdle(userID, surveyID); err != nil {
		return nil, err
	}
	return result, nil
}

func firstTextQuestion(questions []models.Question) *models.Question {
	var best *models.Question
	for i := range questions {
		q := &questions[i]
		if q.Tipo != models.QuestionTexto {
			continue
		}
		if best == nil || q.Orden < best.Orden {
			best = q
		}
	}
	return best
}

// Current returns the earliest open attempt for the pair, sweeping first.
func (as *AttemptService) Current(surveyID, userID uuid.UUID) (*models.Attempt, error) {
	if _, err := as.ExpireStale(as.DB, surveyID, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var att models.Attempt
	err := as.DB.Where("survey_id = ? AND user_id = ? AND estado = ?",
		surveyID, userID, models.AttemptEnProgreso).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("id ASC").
		First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("could not query attempts")
	}
	return &att, nil
}

// Next returns the open attempt closest to expiry; ties break on ordinal then
// id so the ordering is deterministic.
func (as *AttemptService) Next(surveyID, userID uuid.UUID) (*models.Attempt, error) {
	if _, err := as.ExpireStale(as.DB, surveyID, userID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	var att models.Attempt
	err := as.DB.Where("survey_id = ? AND user_id = ? AND estado = ?",
		surveyID, userID, models.AttemptEnProgreso).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("expires_at IS NULL, expires_at ASC, intento_nro ASC, id ASC").
		First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, Internal("could not query attempts")
	}
	return &att, nil
}

type SummaryView struct {
	SurveyID             uuid.UUID      `json:"survey_id"`
	IntentoActivo        *int           `json:"intento_activo"`
	UltimoIntento        int            `json:"ultimo_intento"`
	MaxPermitidos        int            `json:"max_permitidos"`
	Usadas               int            `json:"usadas"`
	Restantes            int            `json:"restantes"`
	HasOpenSession       bool           `json:"has_open_session"`
	OpenSessionExpiresAt *time.Time     `json:"open_session_expires_at"`
	Estados              map[string]int `json:"estados"`
}

func (as *AttemptService) Summary(surveyID, userID uuid.UUID) (*SummaryView, error) {
	if _, err := as.ExpireStale(as.DB, surveyID, userID); err != nil {
		return nil, err
	}

	counts, err := as.stateCounts(as.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}
	for _, estado := range []string{models.AttemptEnProgreso, models.AttemptEnviado, models.AttemptExpirado, models.AttemptFallido} {
		if _, ok := counts[estado]; !ok {
			counts[estado] = 0
		}
	}

	now := time.Now().UTC()
	var activo *int
	var activoRow struct{ Nro *int }
	err = as.DB.Model(&models.Attempt{}).
		Select("MAX(intento_nro) AS nro").
		Where("survey_id = ? AND user_id = ? AND estado = ?", surveyID, userID, models.AttemptEnProgreso).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&activoRow).Error
	if err != nil {
		return nil, Internal("could not query active session")
	}
	activo = activoRow.Nro

	var ultimoRow struct{ Nro *int }
	err = as.DB.Model(&models.Attempt{}).
		Select("MAX(intento_nro) AS nro").
		Where("survey_id = ? AND user_id = ?", surveyID, userID).
		Scan(&ultimoRow).Error
	if err != nil {
		return nil, Internal("could not query last session")
	}
	ultimo := 0
	if ultimoRow.Nro != nil {
		ultimo = *ultimoRow.Nro
	}

	usadas, err := as.Quota.UsedFailures(as.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}
	maxPermitidos, err := as.Quota.MaxAllowed(as.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}

	var openExp *time.Time
	var expRow struct{ Exp *time.Time }
	err = as.DB.Model(&models.Attempt{}).
		Select("MAX(expires_at) AS exp").
		Where("survey_id = ? AND user_id = ? AND estado = ?", surveyID, userID, models.AttemptEnProgreso).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Scan(&expRow).Error
	if err != nil {
		return nil, Internal("could not query open session expiry")
	}
	openExp = expRow.Exp

	return &SummaryView{
		SurveyID:             surveyID,
		IntentoActivo:        activo,
		UltimoIntento:        ultimo,
		MaxPermitidos:        maxPermitidos,
		Usadas:               usadas,
		Restantes:            max(0, maxPermitidos-usadas),
		HasOpenSession:       activo != nil,
		OpenSessionExpiresAt: openExp,
		Estados:              counts,
	}, nil
}

type QuotaView struct {
	SurveyID      uuid.UUID `json:"survey_id"`
	MaxPermitidos int       `json:"max_permitidos"`
	Fallidos      int       `json:"fallidos"`
	Restantes     int       `json:"restantes"`
}

func (as *AttemptService) QuotaSummary(surveyID, userID uuid.UUID) (*QuotaView, error) {
	if _, err := as.ExpireStale(as.DB, surveyID, userID); err != nil {
		return nil, err
	}
	fails, err := as.Quota.UsedFailures(as.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}
	maxPermitidos, err := as.Quota.MaxAllowed(as.DB, surveyID, userID)
	if err != nil {
		return nil, err
	}
	return &QuotaView{
		SurveyID:      surveyID,
		MaxPermitidos: maxPermitidos,
		Fallidos:      fails,
		Restantes:     max(0, maxPermitidos-fails),
	}, nil
}

// List returns the caller's attempts, optionally filtered (and swept) by
// survey.
func (as *AttemptService) List(userID uuid.UUID, surveyID *uuid.UUID) ([]models.Attempt, error) {
	q := as.DB.Where("user_id = ?", userID)
	if surveyID != nil {
		if _, err := as.ExpireStale(as.DB, *surveyID, userID); err != nil {
			return nil, err
		}
		q = q.Where("survey_id = ?", *surveyID)
	}
	var rows []models.Attempt
	if err := q.Find(&rows).Error; err != nil {
		return nil, Internal("could not query attempts")
	}
	return rows, nil
}

// Get returns one owned attempt with its stored responses.
func (as *AttemptService) Get(attemptID, userID uuid.UUID) (*models.Attempt, []models.Response, error) {
	var att models.Attempt
	err := as.DB.Where("id = ? AND user_id = ?", attemptID, userID).First(&att).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, NotFound("attempt not found")
	}
	if err != nil {
		return nil, nil, Internal("could not query attempts")
	}
	var responses []models.Response
	if err := as.DB.Where("attempt_id = ?", attemptID).Find(&responses).Error; err != nil {
		return nil, nil, Internal("could not query responses")
	}
	return &att, responses, nil
}

// Reset purges terminal-failure rows for a (survey, user) pair. Admin only;
// enviado rows are never touched.
func (as *AttemptService) Reset(surveyID, userID uuid.UUID) error {
	err := as.DB.Where("survey_id = ? AND user_id = ? AND estado IN ?",
		surveyID, userID, []string{models.AttemptExpirado, models.AttemptFallido}).
		Delete(&models.Attempt{}).Error
	if err != nil {
		return Internal("could not reset attempts")
	}
	return nil
}
