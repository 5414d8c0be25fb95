package services

import (
	"math"

	"github.com/edmetrics/assessment-engine/internal/models"
)

// Score scale parameters. A final score is a linear mapping of blended
// ability (measured in difficulty units) onto a norm-referenced band,
// so a mid-range ability on a 1-10 bank lands near 180-200.
const (
	scoreBase          = 100.0
	scorePerDifficulty = 15.0

	// Weight of the replayed ability estimate vs the difficulty-weighted
	// proportion correct in the final score blend.
	abilityWeight = 0.8

	// Sigmoid steepness in difficulty units: one unit of ability over
	// the item difficulty predicts ~69% accuracy.
	discrimination = 1.25

	// Decaying step size: stepInitial / (1 + stepDecay * index). The
	// first answer moves the estimate by up to ~1.2 difficulty units,
	// the tenth by ~0.27.
	stepInitial = 1.2
	stepDecay   = 0.35
)

// Estimator converts (difficulty, correctness) observations into a
// running ability estimate and the next target difficulty. All methods
// are pure; the same inputs always produce the same outputs.
type Estimator struct {
	DifficultyMin int
	DifficultyMax int
}

func NewEstimator(difficultyMin, difficultyMax int) Estimator {
	return Estimator{DifficultyMin: difficultyMin, DifficultyMax: difficultyMax}
}

// ExpectedAccuracy returns the probability a student with the given
// ability answers an item of the given difficulty correctly.
func (e Estimator) ExpectedAccuracy(ability float64, difficulty int) float64 {
	x := (ability - float64(difficulty)) / discrimination
	return 1.0 / (1.0 + math.Exp(-x))
}

// StepSize returns the adjustment magnitude for the observation at the
// given zero-based index. Monotonically non-increasing so the estimate
// converges instead of oscillating.
func (e Estimator) StepSize(observationIndex int) float64 {
	return stepInitial / (1.0 + stepDecay*float64(observationIndex))
}

// InitialDifficulty maps a prior final score onto a starting
// difficulty; without a prior it starts mid-range.
func (e Estimator) InitialDifficulty(priorScore *int) int {
	if priorScore == nil {
		return e.clampDifficulty((e.DifficultyMin + e.DifficultyMax + 1) / 2)
	}
	return e.clampDifficulty(int(math.Round(e.AbilityFromScore(*priorScore))))
}

// AbilityFromScore inverts the score mapping, clamped to the valid
// ability range.
func (e Estimator) AbilityFromScore(score int) float64 {
	return e.clampAbility((float64(score) - scoreBase) / scorePerDifficulty)
}

// Update folds one answer into the ability estimate and returns the
// next target difficulty. observationIndex is the zero-based position
// of this answer within the session.
func (e Estimator) Update(ability float64, difficulty int, correct bool, observationIndex int) (newAbility float64, nextDifficulty int) {
	expected := e.ExpectedAccuracy(ability, difficulty)

	result := 0.0
	if correct {
		result = 1.0
	}

	newAbility = e.clampAbility(ability + e.StepSize(observationIndex)*(result-expected))
	nextDifficulty = e.clampDifficulty(int(math.Round(newAbility)))
	return newAbility, nextDifficulty
}

// FinalScore computes the deterministic final score for a finished
// observation sequence. The score blends two signals: the ability
// estimate after replaying every observation through Update starting
// from the first item's difficulty, and a difficulty credit equal to
// the proportion correct weighted by the mean difficulty of the asked
// items. Two students with equal proportions correct therefore
// separate on how hard their correctly-answered items were.
func (e Estimator) FinalScore(observations []*models.Observation) int {
	if len(observations) == 0 {
		return int(math.Round(scoreBase + scorePerDifficulty*float64(e.DifficultyMin)))
	}

	ability := float64(observations[0].Difficulty)
	correct := 0
	difficultySum := 0
	for i, obs := range observations {
		ability, _ = e.Update(ability, obs.Difficulty, obs.Correct, i)
		if obs.Correct {
			correct++
		}
		difficultySum += obs.Difficulty
	}

	proportion := float64(correct) / float64(len(observations))
	meanDifficulty := float64(difficultySum) / float64(len(observations))
	credit := proportion * meanDifficulty

	blended := abilityWeight*ability + (1.0-abilityWeight)*credit
	return int(math.Round(scoreBase + scorePerDifficulty*blended))
}

func (e Estimator) clampAbility(a float64) float64 {
	return math.Min(math.Max(a, float64(e.DifficultyMin)), float64(e.DifficultyMax))
}

func (e Estimator) clampDifficulty(d int) int {
	if d < e.DifficultyMin {
		return e.DifficultyMin
	}
	if d > e.DifficultyMax {
		return e.DifficultyMax
	}
	return d
}
