package memory

import (
	"context"
	"testing"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/app/storetest"
	"quiz-room-service/internal/domain"
)

func TestRoomStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) app.RoomStore {
		return NewRoomStore()
	})
}

func TestRoomStoreReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()
	room := storetest.NewRoom("COPY23")
	if err := store.CreateRoom(ctx, room); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetRoom(ctx, room.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	got.Questions[0].Options[0] = "mutated"
	got.Participants["intruder"] = got.Participants["nobody"]

	again, _ := store.GetRoom(ctx, room.ID)
	if again.Questions[0].Options[0] != "Berlin" {
		t.Fatalf("store leaked question slice: %q", again.Questions[0].Options[0])
	}
	if _, ok := again.Participants["intruder"]; ok {
		t.Fatalf("store leaked participants map")
	}
}

func TestRoomStoreWritesToMissingRoomAreIgnored(t *testing.T) {
	ctx := context.Background()
	store := NewRoomStore()

	if err := store.AddAnswer(ctx, "missing", 0, domain.Answer{ParticipantID: "p"}); err != nil {
		t.Fatalf("add answer on missing room: %v", err)
	}
	if err := store.UpdateParticipantScore(ctx, "missing", "p", 10, 10); err != nil {
		t.Fatalf("score on missing room: %v", err)
	}
	if err := store.DeleteRoom(ctx, "missing"); err != nil {
		t.Fatalf("delete missing room: %v", err)
	}
	rooms, _ := store.ListRooms(ctx)
	if len(rooms) != 0 {
		t.Fatalf("expected no rooms, got %d", len(rooms))
	}
}
