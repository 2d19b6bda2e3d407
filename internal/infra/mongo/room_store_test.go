package mongo

import (
	"testing"

	"go.mongodb.org/mongo-driver/bson"

	"quiz-room-service/internal/domain"
)

func TestFieldPaths(t *testing.T) {
	if got := participantPath("p-1"); got != "participants.p-1" {
		t.Fatalf("participant path %q", got)
	}
	if got := answerPath(3, "p-1"); got != "answers.3.p-1" {
		t.Fatalf("answer path %q", got)
	}
}

func TestRoomDocumentRoundTrip(t *testing.T) {
	start := int64(1_700_000_000_000)
	room := domain.Room{
		ID:                     "room-1",
		Code:                   "ABC234",
		Status:                 domain.StatusPlaying,
		HostID:                 "host-1",
		QuestionStartTimestamp: &start,
		Participants:           map[string]domain.Participant{"p-1": {ID: "p-1", Name: "Ana", TotalScore: 90}},
		Questions:              []domain.Question{{Text: "Q", Options: []string{"A", "B", "C", "D"}, CorrectOptionIndex: 1}},
		Answers:                map[string]map[string]domain.Answer{"0": {"p-1": {ParticipantID: "p-1", OptionIndex: 1, Score: 90}}},
	}

	raw, err := bson.Marshal(room)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var doc bson.M
	if err := bson.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal raw: %v", err)
	}
	if doc["_id"] != "room-1" {
		t.Fatalf("room id must be the document _id, got %v", doc["_id"])
	}

	var decoded domain.Room
	if err := bson.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Participants["p-1"].TotalScore != 90 || *decoded.QuestionStartTimestamp != start {
		t.Fatalf("unexpected decode %+v", decoded)
	}
	if a, ok := decoded.Answer(0, "p-1"); !ok || a.Score != 90 {
		t.Fatalf("answer lost in round trip: %+v", decoded.Answers)
	}
}

func TestNormalizeFillsNilMaps(t *testing.T) {
	var room domain.Room
	normalize(&room)
	if room.Participants == nil || room.Answers == nil {
		t.Fatalf("expected maps to be initialised")
	}
}
