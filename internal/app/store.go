package app

import (
	"context"
	"errors"

	"quiz-room-service/internal/domain"
)

// ErrCodeTaken is returned by RoomStore.CreateRoom when another live room already owns the code.
var ErrCodeTaken = errors.New("room code already in use")

// RoomStore abstracts how rooms are stored (in-memory, Redis, Postgres, MongoDB).
// Every operation is atomic for a single room id; nothing spans rooms.
type RoomStore interface {
	CreateRoom(ctx context.Context, room domain.Room) error
	// GetRoom returns nil, nil when the room does not exist.
	GetRoom(ctx context.Context, roomID string) (*domain.Room, error)
	// GetRoomByCode matches the upper-cased, trimmed code; nil, nil when absent.
	GetRoomByCode(ctx context.Context, code string) (*domain.Room, error)
	UpdateRoom(ctx context.Context, roomID string, update domain.RoomUpdate) error
	AddParticipant(ctx context.Context, roomID string, participant domain.Participant) error
	UpdateParticipantConnection(ctx context.Context, roomID, participantID string, connected bool) error
	// AddAnswer inserts only if the (question, participant) pair is empty and
	// returns domain.ErrDuplicateAnswer otherwise.
	AddAnswer(ctx context.Context, roomID string, questionIndex int, answer domain.Answer) error
	UpdateParticipantScore(ctx context.Context, roomID, participantID string, scoreIncrement int, responseTimeIncrement int64) error
	DeleteRoom(ctx context.Context, roomID string) error
	ListRooms(ctx context.Context) ([]domain.Room, error)
}
