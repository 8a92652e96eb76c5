// Package scoring computes compatibility between two users' criteria: a
// weighted sum of per-component sub-scores, plus a confidence figure
// derived from how many sub-scores cleared a high bar.
package scoring

import (
	"github.com/aungmyo/matchworker/internal/domain"
)

// Weights holds the per-component contribution to the total score. The
// defaults mirror the four signal-bearing dimensions (language, fluency,
// topics, dating) plus two currently-static placeholders (activity,
// success_rate) reserved for future behavioral data sources.
type Weights struct {
	Language    float64
	Fluency     float64
	Topics      float64
	Dating      float64
	Activity    float64
	SuccessRate float64
}

// DefaultWeights is used whenever a caller does not supply its own.
var DefaultWeights = Weights{
	Language:    0.35,
	Fluency:     0.25,
	Topics:      0.20,
	Dating:      0.10,
	Activity:    0.05,
	SuccessRate: 0.05,
}

// placeholderScore is returned for sub-scores with no live data source yet.
const placeholderScore = 0.7

// highScoreBar is the threshold a sub-score must clear to count toward
// confidence.
const highScoreBar = 0.7

// Score is the breakdown of a compatibility computation between two
// criteria sets.
type Score struct {
	Total       float64
	Language    float64
	Fluency     float64
	Topics      float64
	Dating      float64
	Activity    float64
	SuccessRate float64
	Confidence  float64
}

// Compute scores a against b using w. The result is deterministic and
// order-independent except where noted (fluency and topics are symmetric
// by construction).
func Compute(a, b domain.MatchCriteria, w Weights) Score {
	s := Score{
		Language:    languageScore(a, b),
		Fluency:     fluencyScore(a, b),
		Topics:      topicsScore(a, b),
		Dating:      datingScore(a, b),
		Activity:    placeholderScore,
		SuccessRate: placeholderScore,
	}

	s.Total = w.Language*s.Language +
		w.Fluency*s.Fluency +
		w.Topics*s.Topics +
		w.Dating*s.Dating +
		w.Activity*s.Activity +
		w.SuccessRate*s.SuccessRate

	s.Confidence = confidence(s)

	return s
}

func languageScore(a, b domain.MatchCriteria) float64 {
	if a.Language == b.Language {
		return 1
	}
	return 0
}

func fluencyScore(a, b domain.MatchCriteria) float64 {
	delta := a.Fluency - b.Fluency
	if delta < 0 {
		delta = -delta
	}
	score := 1 - float64(delta)/5
	if score < 0 {
		return 0
	}
	return score
}

// topicsScore is the Jaccard index of the two topic sets, clamped to
// [0,1]. Two empty sets score 0 rather than dividing by zero, since
// MatchCriteria never actually permits empty topics.
func topicsScore(a, b domain.MatchCriteria) float64 {
	union := domain.Union(a.Topics, b.Topics)
	if len(union) == 0 {
		return 0
	}
	intersection := domain.Intersect(a.Topics, b.Topics)

	score := float64(len(intersection)) / float64(len(union))
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	default:
		return score
	}
}

func datingScore(a, b domain.MatchCriteria) float64 {
	if a.Dating == b.Dating {
		return 1
	}
	return 0
}

// confidence counts how many of the six sub-scores clear highScoreBar,
// normalizes by the count, and adds a flat bonus — capped at 1.
func confidence(s Score) float64 {
	values := []float64{s.Language, s.Fluency, s.Topics, s.Dating, s.Activity, s.SuccessRate}

	high := 0
	for _, v := range values {
		if v > highScoreBar {
			high++
		}
	}

	c := float64(high)/float64(len(values)) + 0.2
	if c > 1 {
		return 1
	}
	return c
}
