package services_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"encuestas/backend/models"
	"encuestas/backend/services"
)

func TestCreateAttemptsFirstOrdinal(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	require.Len(t, created, 2)
	for _, att := range created {
		assert.Equal(t, 1, att.IntentoNro)
		assert.Equal(t, models.AttemptEnProgreso, att.Estado)
		require.NotNil(t, att.ExpiresAt)
		assert.True(t, att.ExpiresAt.After(time.Now().UTC()))
	}
}

func TestCreateAttemptsValidatesInput(t *testing.T) {
	db, cfg, _, _, attempts := newServices(t)
	survey, _, _ := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	_, err := attempts.CreateAttempts(survey.ID, user.ID, nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonValidation, svcErr.Reason)

	tooMany := make([]uuid.UUID, cfg.MaxTeachersPerCreate+1)
	for i := range tooMany {
		tooMany[i] = uuid.New()
	}
	_, err = attempts.CreateAttempts(survey.ID, user.ID, tooMany)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonValidation, svcErr.Reason)
}

func TestCreateAttemptsRejectsUnassignedTeacher(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, _ := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	stray := models.Teacher{Identificador: "T-999", Nombre: "Sin asignar", Estado: models.TeacherActivo}
	require.NoError(t, db.Create(&stray).Error)

	_, err := attempts.CreateAttempts(survey.ID, user.ID, []uuid.UUID{stray.ID})
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonValidation, svcErr.Reason)
}

func TestCreateAttemptsRejectsInactiveSurvey(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	require.NoError(t, db.Model(survey).Update("estado", models.SurveyCerrada).Error)

	_, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonNotFound, svcErr.Reason)
}

func TestCreateAttemptsReusesLiveAttempt(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	first, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	second, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	assert.Equal(t, first[0].ID, second[0].ID)

	var n int64
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("survey_id = ? AND user_id = ?", survey.ID, user.ID).
		Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestCreateAttemptsAfterExpiryAdvancesOrdinal(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	first, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", first[0].ID).
		Update("expires_at", past).Error)

	second, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, second[0].ID)
	assert.Equal(t, 2, second[0].IntentoNro)

	var old models.Attempt
	require.NoError(t, db.First(&old, "id = ?", first[0].ID).Error)
	assert.Equal(t, models.AttemptExpirado, old.Estado)
}

func TestCreateAttemptsQuotaGate(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	// Burn the whole default budget of 2 failed sessions.
	for i := 0; i < 2; i++ {
		created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, db.Model(&models.Attempt{}).
			Where("id = ?", created[0].ID).
			Update("expires_at", past).Error)
	}

	_, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 403, svcErr.Status)
	assert.Equal(t, services.ReasonQuotaExceeded, svcErr.Reason)
}

func TestCreateAttemptsGrantExtraReopensGate(t *testing.T) {
	db, _, quota, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	for i := 0; i < 2; i++ {
		created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
		require.NoError(t, err)
		past := time.Now().UTC().Add(-time.Minute)
		require.NoError(t, db.Model(&models.Attempt{}).
			Where("id = ?", created[0].ID).
			Update("expires_at", past).Error)
	}
	_, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.Error(t, err)

	_, err = quota.GrantExtra(survey.ID, user.ID, 1)
	require.NoError(t, err)

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	assert.Equal(t, 3, created[0].IntentoNro)
}

func TestCreateAttemptsBlocksEvaluatedTeacher(t *testing.T) {
	db, _, _, turnos, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	_, _, err := turnos.Open(user.ID)
	require.NoError(t, err)
	created, err := attempts.CreateAttempts(survey.ID, user.ID, []uuid.UUID{teachers[0].ID})
	require.NoError(t, err)
	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 5), nil)
	require.NoError(t, err)

	_, err = attempts.CreateAttempts(survey.ID, user.ID, []uuid.UUID{teachers[0].ID, teachers[1].ID})
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 409, svcErr.Status)
	assert.Equal(t, services.ReasonAlreadySubmitted, svcErr.Reason)
	assert.Contains(t, svcErr.Detail, teachers[0].Nombre)

	// Atomicity: the failed batch must not have created an attempt for the
	// second teacher either.
	var n int64
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("teacher_id = ?", teachers[1].ID).Count(&n).Error)
	assert.EqualValues(t, 0, n)
}

func TestExpireStaleIsIdempotent(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	for _, att := range created {
		require.NoError(t, db.Model(&models.Attempt{}).
			Where("id = ?", att.ID).
			Update("expires_at", past).Error)
	}

	flipped, err := attempts.ExpireStale(db, survey.ID, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 2, flipped)

	flipped, err = attempts.ExpireStale(db, survey.ID, user.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 0, flipped)
}

func TestPatchProgressStoresAndRenews(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	before := *created[0].ExpiresAt

	progreso := json.RawMessage(`{"Q01": 4, "Q02": 5}`)
	patched, err := attempts.PatchProgress(created[0].ID, user.ID, progreso, nil)
	require.NoError(t, err)
	assert.JSONEq(t, string(progreso), string(patched.ProgresoJSON))
	assert.False(t, patched.ExpiresAt.Before(before))

	// renew=false keeps the deadline untouched.
	noRenew := false
	orig := *patched.ExpiresAt
	patched, err = attempts.PatchProgress(created[0].ID, user.ID, nil, &noRenew)
	require.NoError(t, err)
	assert.Equal(t, orig.Unix(), patched.ExpiresAt.Unix())
}

func TestPatchProgressRejectsWrongOwnerAndState(t *testing.T) {
	db, _, _, turnos, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")
	other := seedUser(t, db, "otro@usco.edu.co")

	_, _, err := turnos.Open(user.ID)
	require.NoError(t, err)
	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	_, err = attempts.PatchProgress(created[0].ID, other.ID, nil, nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonNotFound, svcErr.Reason)

	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 3), nil)
	require.NoError(t, err)

	_, err = attempts.PatchProgress(created[0].ID, user.ID, nil, nil)
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonNotEditable, svcErr.Reason)
}

func TestSubmitComputesScoresAndClosesTurno(t *testing.T) {
	db, _, _, turnos, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	turno, _, err := turnos.Open(user.ID)
	require.NoError(t, err)
	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	textos := &services.FreeText{Positivos: "Claridad", Mejorar: "Más ejemplos"}
	result, err := attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 4), textos)
	require.NoError(t, err)
	assert.Equal(t, models.AttemptEnviado, result.Estado)
	require.NotNil(t, result.Scores.Total)
	assert.Equal(t, 4.0, *result.Scores.Total)
	require.Len(t, result.Scores.Secciones, 2)
	for _, sec := range result.Scores.Secciones {
		assert.Equal(t, 4.0, sec.Score)
	}

	// 15 likert responses plus one free-text blob.
	var n int64
	require.NoError(t, db.Model(&models.Response{}).
		Where("attempt_id = ?", created[0].ID).Count(&n).Error)
	assert.EqualValues(t, 16, n)

	var got models.Turno
	require.NoError(t, db.First(&got, "id = ?", turno.ID).Error)
	assert.Equal(t, models.TurnoClosed, got.Status)
}

func TestSubmitSkipsEmptyFreeText(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 5), &services.FreeText{})
	require.NoError(t, err)

	var n int64
	require.NoError(t, db.Model(&models.Response{}).
		Where("attempt_id = ?", created[0].ID).Count(&n).Error)
	assert.EqualValues(t, 15, n)
}

func TestSubmitTwiceConflicts(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 3), nil)
	require.NoError(t, err)

	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 3), nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 409, svcErr.Status)
	assert.Equal(t, services.ReasonAlreadySubmitted, svcErr.Reason)
}

func TestSubmitDuplicateEnviadoHitsUniqueIndex(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	// A second live attempt for an already-evaluated teacher can slip past
	// the creation pre-check under a race. The flip to enviado must then be
	// stopped by the partial unique index and surface as a conflict, never as
	// an internal error.
	require.NoError(t, db.Create(&models.Attempt{
		SurveyID: survey.ID, UserID: user.ID, TeacherID: teachers[0].ID,
		IntentoNro: 1, Estado: models.AttemptEnviado,
	}).Error)
	future := time.Now().UTC().Add(30 * time.Minute)
	racer := models.Attempt{
		SurveyID: survey.ID, UserID: user.ID, TeacherID: teachers[0].ID,
		IntentoNro: 2, Estado: models.AttemptEnProgreso, ExpiresAt: &future,
	}
	require.NoError(t, db.Create(&racer).Error)

	_, err := attempts.Submit(racer.ID, user.ID, likertAnswers(questions, 4), nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 409, svcErr.Status)
	assert.Equal(t, services.ReasonAlreadySubmitted, svcErr.Reason)

	var got models.Attempt
	require.NoError(t, db.First(&got, "id = ?", racer.ID).Error)
	assert.Equal(t, models.AttemptEnProgreso, got.Estado)
}

func TestSubmitExpiredAttemptFlipsState(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", created[0].ID).
		Update("expires_at", past).Error)

	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 3), nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 409, svcErr.Status)
	assert.Equal(t, services.ReasonExpired, svcErr.Reason)

	var got models.Attempt
	require.NoError(t, db.First(&got, "id = ?", created[0].ID).Error)
	assert.Equal(t, models.AttemptExpirado, got.Estado)
}

func TestSubmitRejectsIncompleteAnswerSet(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	answers := likertAnswers(questions, 4)[:10]
	_, err = attempts.Submit(created[0].ID, user.ID, answers, nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonValidation, svcErr.Reason)
	assert.Contains(t, svcErr.Detail, "missing answers")

	var got models.Attempt
	require.NoError(t, db.First(&got, "id = ?", created[0].ID).Error)
	assert.Equal(t, models.AttemptEnProgreso, got.Estado)
}

func TestSubmitRejectsOutOfRangeValue(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	answers := likertAnswers(questions, 4)
	answers[0].Value = 6
	_, err = attempts.Submit(created[0].ID, user.ID, answers, nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, services.ReasonValidation, svcErr.Reason)
}

func TestSubmitConfigurationInvariant(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	// Drop one likert question so the survey no longer has the fixed count.
	require.NoError(t, db.Delete(&models.Question{}, "id = ?", questions[0].ID).Error)

	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 4), nil)
	var svcErr *services.Error
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, 500, svcErr.Status)
	assert.Equal(t, services.ReasonConfiguration, svcErr.Reason)
}

func TestNextPrefersClosestExpiry(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	require.Len(t, created, 2)

	soon := time.Now().UTC().Add(5 * time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", created[1].ID).
		Update("expires_at", soon).Error)

	next, err := attempts.Next(survey.ID, user.ID)
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, created[1].ID, next.ID)
}

func TestCurrentReturnsNilWhenNoneOpen(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, _ := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	att, err := attempts.Current(survey.ID, user.ID)
	require.NoError(t, err)
	assert.Nil(t, att)
}

func TestSummaryReflectsStates(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", created[0].ID).
		Update("expires_at", past).Error)

	view, err := attempts.Summary(survey.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Estados[models.AttemptExpirado])
	assert.Equal(t, 1, view.Estados[models.AttemptEnProgreso])
	assert.Equal(t, 0, view.Estados[models.AttemptEnviado])
	require.NotNil(t, view.IntentoActivo)
	assert.Equal(t, 1, *view.IntentoActivo)
	assert.Equal(t, 1, view.UltimoIntento)
	assert.Equal(t, 2, view.MaxPermitidos)
	assert.Equal(t, 1, view.Usadas)
	assert.Equal(t, 1, view.Restantes)
	assert.True(t, view.HasOpenSession)
	assert.NotNil(t, view.OpenSessionExpiresAt)
}

func TestQuotaSummarySweepsFirst(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, _, teachers := seedSurvey(t, db, 1)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", created[0].ID).
		Update("expires_at", past).Error)

	view, err := attempts.QuotaSummary(survey.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, view.Fallidos)
	assert.Equal(t, 2, view.MaxPermitidos)
	assert.Equal(t, 1, view.Restantes)
}

func TestResetPurgesOnlyTerminalFailures(t *testing.T) {
	db, _, _, _, attempts := newServices(t)
	survey, questions, teachers := seedSurvey(t, db, 2)
	user := seedUser(t, db, "alumno@usco.edu.co")

	created, err := attempts.CreateAttempts(survey.ID, user.ID, teacherIDs(teachers))
	require.NoError(t, err)

	_, err = attempts.Submit(created[0].ID, user.ID, likertAnswers(questions, 5), nil)
	require.NoError(t, err)
	past := time.Now().UTC().Add(-time.Minute)
	require.NoError(t, db.Model(&models.Attempt{}).
		Where("id = ?", created[1].ID).
		Update("expires_at", past).Error)
	_, err = attempts.ExpireStale(db, survey.ID, user.ID)
	require.NoError(t, err)

	require.NoError(t, attempts.Reset(survey.ID, user.ID))

	var remaining []models.Attempt
	require.NoError(t, db.Where("survey_id = ? AND user_id = ?", survey.ID, user.ID).
		Find(&remaining).Error)
	require.Len(t, remaining, 1)
	assert.Equal(t, models.AttemptEnviado, remaining[0].Estado)
}
