package app

import (
	"testing"
	"time"

	"quiz-room-service/internal/domain"
)

func TestScore(t *testing.T) {
	rules := DefaultRules()
	cases := []struct {
		name         string
		correct      bool
		responseTime int64
		want         int
	}{
		{"instant", true, 0, 120},
		{"rounds up to max", true, 500, 120},
		{"first point lost", true, 501, 119},
		{"half time", true, 60000, 60},
		{"quarter left", true, 90000, 30},
		{"at timeout", true, 120000, 0},
		{"past timeout clamps", true, 150000, 0},
		{"negative clamps", true, -40, 120},
		{"wrong answer", false, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rules.Score(tc.correct, tc.responseTime); got != tc.want {
				t.Fatalf("Score(%v, %d) = %d, want %d", tc.correct, tc.responseTime, got, tc.want)
			}
		})
	}
}

func TestScoreMonotonic(t *testing.T) {
	rules := DefaultRules()
	prev := rules.Score(true, 0)
	for rt := int64(0); rt <= 120000; rt += 250 {
		got := rules.Score(true, rt)
		if got > prev {
			t.Fatalf("score rose from %d to %d at rt=%d", prev, got, rt)
		}
		if got < 0 || got > rules.MaxScore {
			t.Fatalf("score %d out of range at rt=%d", got, rt)
		}
		prev = got
	}
}

func TestExpired(t *testing.T) {
	rules := DefaultRules()
	if rules.Expired(120000) {
		t.Fatalf("exact timeout must still be accepted")
	}
	if !rules.Expired(120001) {
		t.Fatalf("past timeout must be rejected")
	}
}

func TestShouldClose(t *testing.T) {
	rules := DefaultRules()
	partial := domain.AnswerCount{Count: 1, Total: 3}
	if rules.ShouldClose(partial, 0) {
		t.Fatalf("should stay open with answers missing")
	}
	if rules.ShouldClose(partial, 119899) {
		t.Fatalf("should stay open outside the grace window")
	}
	if !rules.ShouldClose(partial, 119900) {
		t.Fatalf("should close inside the grace window")
	}
	if !rules.ShouldClose(domain.AnswerCount{Count: 3, Total: 3}, 0) {
		t.Fatalf("should close once everyone answered")
	}
}

func TestCustomRules(t *testing.T) {
	rules := Rules{QuestionTimeout: 10 * time.Second, MaxScore: 1000, CloseGrace: time.Second}
	if got := rules.Score(true, 5000); got != 500 {
		t.Fatalf("expected 500, got %d", got)
	}
	if !rules.ShouldClose(domain.AnswerCount{Count: 0, Total: 2}, 9000) {
		t.Fatalf("expected close at the configured grace")
	}
}
