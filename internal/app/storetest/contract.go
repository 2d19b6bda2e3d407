// Package storetest holds the behaviour every app.RoomStore implementation must share.
package storetest

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// Factory returns an empty store for one subtest.
type Factory func(t *testing.T) app.RoomStore

// Run exercises a store implementation against the RoomStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("GetMissing", func(t *testing.T) { testGetMissing(t, newStore(t)) })
	t.Run("CodeLookupNormalizes", func(t *testing.T) { testCodeLookup(t, newStore(t)) })
	t.Run("CodeTaken", func(t *testing.T) { testCodeTaken(t, newStore(t)) })
	t.Run("UpdateRoomMergesFields", func(t *testing.T) { testUpdateRoom(t, newStore(t)) })
	t.Run("UpdateMissingRoomIsNoop", func(t *testing.T) { testUpdateMissing(t, newStore(t)) })
	t.Run("Participants", func(t *testing.T) { testParticipants(t, newStore(t)) })
	t.Run("AnswerInsertedOnce", func(t *testing.T) { testAnswerOnce(t, newStore(t)) })
	t.Run("ConcurrentAnswersSameParticipant", func(t *testing.T) { testConcurrentAnswers(t, newStore(t)) })
	t.Run("ScoreIsAdditive", func(t *testing.T) { testScore(t, newStore(t)) })
	t.Run("DeleteAndList", func(t *testing.T) { testDeleteAndList(t, newStore(t)) })
}

// NewRoom builds a lobby room with a unique id and the given code.
func NewRoom(code string) domain.Room {
	return domain.Room{
		ID:           uuid.NewString(),
		Code:         code,
		Status:       domain.StatusWaiting,
		HostID:       "host-1",
		CreatedAt:    1_700_000_000_000,
		Participants: map[string]domain.Participant{},
		Questions: []domain.Question{
			{Text: "Capital of France?", Options: []string{"Berlin", "Madrid", "Paris", "Rome"}, CorrectOptionIndex: 2},
			{Text: "2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectOptionIndex: 1},
		},
		Answers: map[string]map[string]domain.Answer{},
	}
}

func uniqueCode() string {
	return "C" + uuid.NewString()[:5]
}

func testCreateAndGet(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, room.ID, got.ID)
	assert.Equal(t, domain.NormalizeCode(room.Code), got.Code)
	assert.Equal(t, domain.StatusWaiting, got.Status)
	assert.Equal(t, "host-1", got.HostID)
	assert.Nil(t, got.QuestionStartTimestamp)
	assert.Equal(t, room.Questions, got.Questions)
	assert.Empty(t, got.Participants)
	assert.Empty(t, got.Answers)
}

func testGetMissing(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	got, err := store.GetRoom(ctx, uuid.NewString())
	require.NoError(t, err)
	assert.Nil(t, got)

	got, err = store.GetRoomByCode(ctx, "ZZZZZZ")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testCodeLookup(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom("ABC234")
	require.NoError(t, store.CreateRoom(ctx, room))

	got, err := store.GetRoomByCode(ctx, "  abc234 ")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, room.ID, got.ID)
}

func testCodeTaken(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	require.NoError(t, store.CreateRoom(ctx, NewRoom("DUP234")))
	err := store.CreateRoom(ctx, NewRoom("DUP234"))
	assert.ErrorIs(t, err, app.ErrCodeTaken)
}

func testUpdateRoom(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))

	playing := domain.StatusPlaying
	index := 1
	start := int64(1_700_000_100_000)
	require.NoError(t, store.UpdateRoom(ctx, room.ID, domain.RoomUpdate{
		Status:               &playing,
		CurrentQuestionIndex: &index,
		SetQuestionStart:     true,
		QuestionStart:        &start,
		LastQuestionStart:    &start,
	}))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, got.Status)
	assert.Equal(t, 1, got.CurrentQuestionIndex)
	require.NotNil(t, got.QuestionStartTimestamp)
	assert.Equal(t, start, *got.QuestionStartTimestamp)
	assert.Equal(t, start, got.LastQuestionStart)
	assert.Equal(t, "host-1", got.HostID, "fields outside the update stay untouched")

	finished := domain.StatusFinished
	finishedAt := int64(1_700_000_200_000)
	require.NoError(t, store.UpdateRoom(ctx, room.ID, domain.RoomUpdate{
		Status:           &finished,
		SetQuestionStart: true,
		FinishedAt:       &finishedAt,
	}))

	got, err = store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, got.Status)
	assert.Nil(t, got.QuestionStartTimestamp)
	require.NotNil(t, got.FinishedAt)
	assert.Equal(t, finishedAt, *got.FinishedAt)
	assert.Equal(t, 1, got.CurrentQuestionIndex)
	assert.Equal(t, start, got.LastQuestionStart, "clearing the live start keeps the last one")
}

func testUpdateMissing(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	status := domain.StatusResult
	missing := uuid.NewString()
	assert.NoError(t, store.UpdateRoom(ctx, missing, domain.RoomUpdate{Status: &status}))
	got, err := store.GetRoom(ctx, missing)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testParticipants(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))

	ana := domain.Participant{ID: uuid.NewString(), Name: "Ana", JoinedAt: 10, Connected: true}
	require.NoError(t, store.AddParticipant(ctx, room.ID, ana))
	require.NoError(t, store.UpdateParticipantConnection(ctx, room.ID, ana.ID, false))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	require.Contains(t, got.Participants, ana.ID)
	stored := got.Participants[ana.ID]
	assert.Equal(t, "Ana", stored.Name)
	assert.Equal(t, int64(10), stored.JoinedAt)
	assert.False(t, stored.Connected)

	require.NoError(t, store.UpdateParticipantConnection(ctx, room.ID, ana.ID, true))
	got, err = store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	assert.True(t, got.Participants[ana.ID].Connected)
}

func testAnswerOnce(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))
	pid := uuid.NewString()
	require.NoError(t, store.AddParticipant(ctx, room.ID, domain.Participant{ID: pid, Name: "Ana"}))

	first := domain.Answer{ParticipantID: pid, OptionIndex: 2, Timestamp: 5, ResponseTime: 0, Score: 120}
	require.NoError(t, store.AddAnswer(ctx, room.ID, 0, first))

	second := domain.Answer{ParticipantID: pid, OptionIndex: 1, Timestamp: 6, ResponseTime: 1, Score: 0}
	err := store.AddAnswer(ctx, room.ID, 0, second)
	assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	stored, ok := got.Answer(0, pid)
	require.True(t, ok)
	assert.Equal(t, first, stored)

	require.NoError(t, store.AddAnswer(ctx, room.ID, 1, second), "same participant may answer another question")
}

func testConcurrentAnswers(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))
	pid := uuid.NewString()
	require.NoError(t, store.AddParticipant(ctx, room.ID, domain.Participant{ID: pid, Name: "Ana"}))

	const attempts = 8
	var ok, dup atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := store.AddAnswer(ctx, room.ID, 0, domain.Answer{ParticipantID: pid, OptionIndex: i % 4})
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, domain.ErrDuplicateAnswer):
				dup.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), ok.Load())
	assert.Equal(t, int32(attempts-1), dup.Load())
}

func testScore(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	room := NewRoom(uniqueCode())
	require.NoError(t, store.CreateRoom(ctx, room))
	pid := uuid.NewString()
	require.NoError(t, store.AddParticipant(ctx, room.ID, domain.Participant{ID: pid, Name: "Ana"}))

	require.NoError(t, store.UpdateParticipantScore(ctx, room.ID, pid, 100, 2000))
	require.NoError(t, store.UpdateParticipantScore(ctx, room.ID, pid, 60, 3000))

	got, err := store.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	p := got.Participants[pid]
	assert.Equal(t, 160, p.TotalScore)
	assert.Equal(t, int64(5000), p.TotalResponseTime)
	assert.Equal(t, 2, p.QuestionsAnswered)
}

func testDeleteAndList(t *testing.T, store app.RoomStore) {
	ctx := context.Background()
	keep := NewRoom(uniqueCode())
	drop := NewRoom("DEL234")
	require.NoError(t, store.CreateRoom(ctx, keep))
	require.NoError(t, store.CreateRoom(ctx, drop))

	require.NoError(t, store.DeleteRoom(ctx, drop.ID))

	got, err := store.GetRoom(ctx, drop.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	byCode, err := store.GetRoomByCode(ctx, "DEL234")
	require.NoError(t, err)
	assert.Nil(t, byCode)

	rooms, err := store.ListRooms(ctx)
	require.NoError(t, err)
	ids := make([]string, 0, len(rooms))
	for _, r := range rooms {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, keep.ID)
	assert.NotContains(t, ids, drop.ID)

	require.NoError(t, store.CreateRoom(ctx, NewRoom("DEL234")), "a deleted room frees its code")
}
