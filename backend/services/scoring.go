package services

import (
	"math"
	"sort"

	"github.com/google/uuid"

	"encuestas/backend/models"
)

type SectionScore struct {
	SectionID uuid.UUID `json:"section_id"`
	Titulo    string    `json:"titulo"`
	Score     float64   `json:"score"`
}

type ScoreBundle struct {
	Total     *float64       `json:"total"`
	Secciones []SectionScore `json:"secciones"`
}

// Score computes the weighted total and per-section scores for a complete
// likert answer set. Pure; summation order is fixed (question Orden, then
// Codigo) so repeated runs produce identical floating-point results.
func Score(likert []models.Question, sections []models.SurveySection, answers map[uuid.UUID]int) ScoreBundle {
	ordered := make([]models.Question, len(likert))
	copy(ordered, likert)
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].Orden != ordered[j].Orden {
			return ordered[i].Orden < ordered[j].Orden
		}
		return ordered[i].Codigo < ordered[j].Codigo
	})

	var sumW, sumWX int
	for _, q := range ordered {
		w := q.Peso
		if w == 0 {
			w = 1
		}
		sumW += w
		sumWX += answers[q.ID] * w
	}

	bundle := ScoreBundle{}
	if sumW > 0 {
		total := round3(float64(sumWX) / float64(sumW))
		bundle.Total = &total
	}

	for _, sec := range sections {
		var secW, secWX int
		for _, q := range ordered {
			if q.SectionID != sec.ID {
				continue
			}
			w := q.Peso
			if w == 0 {
				w = 1
			}
			secW += w
			secWX += answers[q.ID] * w
		}
		if secW == 0 {
			continue // section has no likert questions
		}
		bundle.Secciones = append(bundle.Secciones, SectionScore{
			SectionID: sec.ID,
			Titulo:    sec.Titulo,
			Score:     round3(float64(secWX) / float64(secW)),
		})
	}

	return bundle
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
