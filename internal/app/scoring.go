package app

import (
	"math"
	"time"

	"quiz-room-service/internal/domain"
)

// Rules are the timing and scoring constants of a game.
type Rules struct {
	// QuestionTimeout is the time budget of a question; later answers are rejected.
	QuestionTimeout time.Duration
	// MaxScore is awarded for a correct answer at zero elapsed time.
	MaxScore int
	// CloseGrace closes the question early when an answer lands this close to the timeout.
	CloseGrace time.Duration
}

// DefaultRules returns the standard 120s / 120 points / 100ms rules.
func DefaultRules() Rules {
	return Rules{
		QuestionTimeout: 120 * time.Second,
		MaxScore:        120,
		CloseGrace:      100 * time.Millisecond,
	}
}

func (r Rules) timeoutMillis() int64 {
	return r.QuestionTimeout.Milliseconds()
}

// Expired reports whether an answer with this response time falls outside the window.
func (r Rules) Expired(responseTime int64) bool {
	return responseTime > r.timeoutMillis()
}

// Score computes the time-decayed score of an answer.
func (r Rules) Score(correct bool, responseTime int64) int {
	if !correct {
		return 0
	}
	total := r.timeoutMillis()
	if total <= 0 {
		return r.MaxScore
	}
	if responseTime < 0 {
		responseTime = 0
	}
	remaining := total - responseTime
	if remaining < 0 {
		remaining = 0
	}
	return int(math.Round(float64(r.MaxScore) * float64(remaining) / float64(total)))
}

// ShouldClose decides whether a question can move to result after an accepted answer.
func (r Rules) ShouldClose(count domain.AnswerCount, responseTime int64) bool {
	if count.Count >= count.Total {
		return true
	}
	return responseTime >= r.timeoutMillis()-r.CloseGrace.Milliseconds()
}
