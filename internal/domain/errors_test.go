package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodeOf(t *testing.T) {
	wrapped := fmt.Errorf("submit: %w", ErrDuplicateAnswer)
	if got := CodeOf(wrapped); got != CodeDuplicateAnswer {
		t.Fatalf("expected %s, got %s", CodeDuplicateAnswer, got)
	}
	if !errors.Is(wrapped, ErrDuplicateAnswer) {
		t.Fatalf("expected errors.Is to match sentinel")
	}
	if got := CodeOf(errors.New("connection refused")); got != CodeUnavailable {
		t.Fatalf("expected storage errors to map to %s, got %s", CodeUnavailable, got)
	}
	if IsDomain(errors.New("boom")) {
		t.Fatalf("plain error must not be a domain error")
	}
}

func TestRoomUpdateApplyClearsTimestamp(t *testing.T) {
	start := int64(1000)
	room := Room{Status: StatusPlaying, QuestionStartTimestamp: &start}

	status := StatusResult
	RoomUpdate{Status: &status, SetQuestionStart: true}.Apply(&room)

	if room.Status != StatusResult {
		t.Fatalf("expected result status, got %s", room.Status)
	}
	if room.QuestionStartTimestamp != nil {
		t.Fatalf("expected timestamp cleared, got %d", *room.QuestionStartTimestamp)
	}
}

func TestRoomCloneIsDeep(t *testing.T) {
	room := Room{
		Participants: map[string]Participant{"p1": {ID: "p1", Name: "Ana"}},
		Questions:    []Question{{Text: "q", Options: []string{"a", "b", "c", "d"}}},
		Answers:      map[string]map[string]Answer{"0": {"p1": {ParticipantID: "p1"}}},
	}
	clone := room.Clone()
	clone.Participants["p2"] = Participant{ID: "p2"}
	clone.Questions[0].Options[0] = "changed"
	clone.Answers["0"]["p2"] = Answer{ParticipantID: "p2"}

	if len(room.Participants) != 1 || room.Questions[0].Options[0] != "a" || len(room.Answers["0"]) != 1 {
		t.Fatalf("clone shares state with original: %+v", room)
	}
}

func TestNormalizeCode(t *testing.T) {
	if got := NormalizeCode("  ab3kq9 "); got != "AB3KQ9" {
		t.Fatalf("unexpected normalized code %q", got)
	}
}
