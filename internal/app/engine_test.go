package app_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/infra/memory"
)

const host = "host-1"

type fixture struct {
	engine *app.Engine
	store  *memory.RoomStore
	clock  *clock.Mock
}

func newFixture(t *testing.T, opts ...app.Option) *fixture {
	t.Helper()
	mock := clock.NewMock()
	mock.Set(time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	var mu sync.Mutex
	next := 0
	ids := func() string {
		mu.Lock()
		defer mu.Unlock()
		next++
		return fmt.Sprintf("id-%d", next)
	}

	store := memory.NewRoomStore()
	all := append([]app.Option{app.WithClock(mock), app.WithIDGenerator(ids)}, opts...)
	return &fixture{engine: app.NewEngine(store, all...), store: store, clock: mock}
}

func quiz(n int) []domain.Question {
	questions := make([]domain.Question, 0, n)
	for i := 0; i < n; i++ {
		questions = append(questions, domain.Question{
			Text:               fmt.Sprintf("Question %d", i+1),
			Options:            []string{"A", "B", "C", "D"},
			CorrectOptionIndex: 2,
		})
	}
	return questions
}

func (f *fixture) room(t *testing.T, questions int, names ...string) (domain.Room, []domain.Participant) {
	t.Helper()
	ctx := context.Background()
	room, err := f.engine.CreateRoom(ctx, quiz(questions), host)
	require.NoError(t, err)

	participants := make([]domain.Participant, 0, len(names))
	for _, name := range names {
		_, p, err := f.engine.JoinRoom(ctx, room.Code, name)
		require.NoError(t, err)
		participants = append(participants, p)
	}
	return room, participants
}

func (f *fixture) started(t *testing.T, questions int, names ...string) (domain.Room, []domain.Participant) {
	t.Helper()
	room, participants := f.room(t, questions, names...)
	room, err := f.engine.StartGame(context.Background(), room.ID, host)
	require.NoError(t, err)
	return room, participants
}

func TestScenarioTwoPlayersAutoClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana", "Bruno")
	ana, bruno := ps[0], ps[1]

	res, err := f.engine.SubmitAnswer(ctx, room.ID, ana.ID, 0, 2)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 120, res.Score)
	assert.Equal(t, domain.AnswerCount{Count: 1, Total: 2}, res.Count)
	assert.False(t, res.ShouldClose)

	f.clock.Add(60 * time.Second)
	res, err = f.engine.SubmitAnswer(ctx, room.ID, bruno.ID, 0, 1)
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, 0, res.Score)
	assert.Equal(t, int64(60000), res.ResponseTime)
	assert.Equal(t, domain.AnswerCount{Count: 2, Total: 2}, res.Count)
	assert.True(t, res.ShouldClose)

	closed, ok, err := f.engine.CloseQuestion(ctx, room.ID, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, domain.StatusResult, closed.Status)
	assert.Nil(t, closed.QuestionStartTimestamp)

	ranking := f.engine.Ranking(closed)
	require.Len(t, ranking, 2)
	assert.Equal(t, ana.ID, ranking[0].ID)
	assert.Equal(t, 1, ranking[0].Position)
	assert.Equal(t, 120, ranking[0].TotalScore)
	assert.Equal(t, bruno.ID, ranking[1].ID)
	assert.Equal(t, 0, ranking[1].QuestionsAnswered, "wrong answers do not count towards the average")
}

func TestScenarioDuplicateSubmission(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana", "Bruno")

	f.clock.Add(30 * time.Second)
	first, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, 90, first.Score)

	_, err = f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 1)
	require.ErrorIs(t, err, domain.ErrDuplicateAnswer)

	got, err := f.engine.GetRoom(ctx, room.ID)
	require.NoError(t, err)
	p := got.Participants[ps[0].ID]
	assert.Equal(t, 90, p.TotalScore)
	assert.Equal(t, int64(30000), p.TotalResponseTime)
	assert.Equal(t, 1, p.QuestionsAnswered)
	stored, _ := got.Answer(0, ps[0].ID)
	assert.Equal(t, 2, stored.OptionIndex)
}

func TestConcurrentSubmissionsAcceptOne(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana")

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
		}(i)
	}
	wg.Wait()

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.ErrorIs(t, err, domain.ErrDuplicateAnswer)
	}
	assert.Equal(t, 1, accepted)

	got, _ := f.engine.GetRoom(ctx, room.ID)
	assert.Equal(t, 120, got.Participants[ps[0].ID].TotalScore)
}

func TestCreateRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	room, err := f.engine.CreateRoom(ctx, quiz(2), host)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusWaiting, room.Status)
	assert.Equal(t, 0, room.CurrentQuestionIndex)
	assert.Nil(t, room.QuestionStartTimestamp)
	assert.Len(t, room.Code, app.CodeLength)
	for _, r := range room.Code {
		assert.Contains(t, app.CodeAlphabet, string(r))
	}
	assert.Equal(t, f.clock.Now().UnixMilli(), room.CreatedAt)

	_, err = f.engine.CreateRoom(ctx, quiz(1), "  ")
	assert.ErrorIs(t, err, domain.ErrHostRequired)

	bad := quiz(1)
	bad[0].Options = bad[0].Options[:3]
	_, err = f.engine.CreateRoom(ctx, bad, host)
	assert.ErrorIs(t, err, domain.ErrInvalidQuiz)

	bad = quiz(1)
	bad[0].CorrectOptionIndex = 4
	_, err = f.engine.CreateRoom(ctx, bad, host)
	assert.ErrorIs(t, err, domain.ErrInvalidQuiz)

	_, err = f.engine.CreateRoom(ctx, nil, host)
	assert.ErrorIs(t, err, domain.ErrInvalidQuiz)
}

func TestCreateRoomRetriesCodeCollisions(t *testing.T) {
	ctx := context.Background()
	codes := []string{"AAAAAA", "AAAAAA", "BBBBBB"}
	var mu sync.Mutex
	f := newFixture(t, app.WithCodeGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		c := codes[0]
		if len(codes) > 1 {
			codes = codes[1:]
		}
		return c
	}))

	first, err := f.engine.CreateRoom(ctx, quiz(1), host)
	require.NoError(t, err)
	second, err := f.engine.CreateRoom(ctx, quiz(1), host)
	require.NoError(t, err)

	assert.Equal(t, "AAAAAA", first.Code)
	assert.Equal(t, "BBBBBB", second.Code)
}

func TestCreateRoomGivesUpWhenCodesRunOut(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, app.WithCodeGenerator(func() string { return "SAME22" }))

	_, err := f.engine.CreateRoom(ctx, quiz(1), host)
	require.NoError(t, err)
	_, err = f.engine.CreateRoom(ctx, quiz(1), host)
	assert.ErrorIs(t, err, domain.ErrCodeSpaceExhausted)
}

func TestJoinRoom(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.room(t, 1)

	updated, ana, err := f.engine.JoinRoom(ctx, "  "+room.Code+" ", "  Ana ")
	require.NoError(t, err)
	assert.Equal(t, "Ana", ana.Name)
	assert.True(t, ana.Connected)
	assert.Zero(t, ana.TotalScore)
	assert.Contains(t, updated.Participants, ana.ID)

	_, _, err = f.engine.JoinRoom(ctx, room.Code, "ANA")
	assert.ErrorIs(t, err, domain.ErrDuplicateName)

	_, _, err = f.engine.JoinRoom(ctx, room.Code, "   ")
	assert.ErrorIs(t, err, domain.ErrInvalidName)

	_, _, err = f.engine.JoinRoom(ctx, "ZZZZZZ", "Bruno")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	_, err = f.engine.StartGame(ctx, room.ID, host)
	require.NoError(t, err)
	_, _, err = f.engine.JoinRoom(ctx, room.Code, "Bruno")
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyStarted)
}

func TestStartGame(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.room(t, 2, "Ana")

	_, err := f.engine.StartGame(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	_, err = f.engine.StartGame(ctx, "missing", host)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)

	started, err := f.engine.StartGame(ctx, room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, started.Status)
	assert.Equal(t, 0, started.CurrentQuestionIndex)
	require.NotNil(t, started.QuestionStartTimestamp)
	assert.Equal(t, f.clock.Now().UnixMilli(), *started.QuestionStartTimestamp)

	_, err = f.engine.StartGame(ctx, room.ID, host)
	assert.ErrorIs(t, err, domain.ErrRoomAlreadyStarted)
}

func TestSubmitAnswerRejections(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.room(t, 2, "Ana")

	_, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
	assert.ErrorIs(t, err, domain.ErrGameNotInProgress)

	_, err = f.engine.StartGame(ctx, room.ID, host)
	require.NoError(t, err)

	_, err = f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 1, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidQuestion, "only the live question accepts answers")
	_, err = f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 7, 2)
	assert.ErrorIs(t, err, domain.ErrInvalidQuestion)
	_, err = f.engine.SubmitAnswer(ctx, room.ID, "stranger", 0, 2)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
	_, err = f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 4)
	assert.ErrorIs(t, err, domain.ErrInvalidOption)
	_, err = f.engine.SubmitAnswer(ctx, "missing", ps[0].ID, 0, 2)
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSubmitAnswerAfterTimeoutWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana")

	f.clock.Add(120*time.Second + time.Millisecond)
	_, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
	require.ErrorIs(t, err, domain.ErrTimeExpired)

	got, _ := f.engine.GetRoom(ctx, room.ID)
	assert.Empty(t, got.Answers[domain.QuestionKey(0)])
	assert.Zero(t, got.Participants[ps[0].ID].TotalScore)
}

func TestSubmitAnswerAtExactTimeoutIsAccepted(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana", "Bruno")

	f.clock.Add(120 * time.Second)
	res, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 0, res.Score)
	assert.True(t, res.ShouldClose)

	got, _ := f.engine.GetRoom(ctx, room.ID)
	assert.Equal(t, 0, got.Participants[ps[0].ID].QuestionsAnswered, "zero-score answers leave totals alone")
}

func TestAutoCloseGraceBoundary(t *testing.T) {
	cases := []struct {
		elapsed time.Duration
		close   bool
	}{
		{0, false},
		{120*time.Second - 101*time.Millisecond, false},
		{120*time.Second - 100*time.Millisecond, true},
		{120 * time.Second, true},
	}
	for _, tc := range cases {
		t.Run(tc.elapsed.String(), func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			room, ps := f.started(t, 1, "Ana", "Bruno")

			f.clock.Add(tc.elapsed)
			res, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
			require.NoError(t, err)
			assert.Equal(t, tc.close, res.ShouldClose)
		})
	}
}

func TestNextQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.started(t, 2, "Ana")

	_, err := f.engine.NextQuestion(ctx, room.ID, host)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	first := *room.QuestionStartTimestamp
	_, err = f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)

	_, err = f.engine.NextQuestion(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	f.clock.Add(5 * time.Second)
	next, err := f.engine.NextQuestion(ctx, room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPlaying, next.Status)
	assert.Equal(t, 1, next.CurrentQuestionIndex)
	require.NotNil(t, next.QuestionStartTimestamp)
	assert.Greater(t, *next.QuestionStartTimestamp, first)

	_, err = f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)
	done, err := f.engine.NextQuestion(ctx, room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFinished, done.Status)
	assert.Nil(t, done.QuestionStartTimestamp)
	require.NotNil(t, done.FinishedAt)
	assert.Equal(t, f.clock.Now().UnixMilli(), *done.FinishedAt)
}

func TestForceResult(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.room(t, 1, "Ana")

	_, err := f.engine.ForceResult(ctx, room.ID, host)
	assert.ErrorIs(t, err, domain.ErrInvalidStatus)

	_, err = f.engine.StartGame(ctx, room.ID, host)
	require.NoError(t, err)
	_, err = f.engine.ForceResult(ctx, room.ID, "intruder")
	assert.ErrorIs(t, err, domain.ErrNotHost)

	res, err := f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusResult, res.Status)
	assert.Nil(t, res.QuestionStartTimestamp)
}

func TestEndGameFromAnyStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	for _, status := range []string{"waiting", "playing", "result", "finished"} {
		t.Run(status, func(t *testing.T) {
			room, _ := f.room(t, 2, "Ana")
			switch status {
			case "playing":
				_, err := f.engine.StartGame(ctx, room.ID, host)
				require.NoError(t, err)
			case "result":
				_, err := f.engine.StartGame(ctx, room.ID, host)
				require.NoError(t, err)
				_, err = f.engine.ForceResult(ctx, room.ID, host)
				require.NoError(t, err)
			case "finished":
				_, err := f.engine.EndGame(ctx, room.ID, host)
				require.NoError(t, err)
			}

			_, err := f.engine.EndGame(ctx, room.ID, "intruder")
			assert.ErrorIs(t, err, domain.ErrNotHost)

			ended, err := f.engine.EndGame(ctx, room.ID, host)
			require.NoError(t, err)
			assert.Equal(t, domain.StatusFinished, ended.Status)
			assert.Nil(t, ended.QuestionStartTimestamp)
			assert.NotNil(t, ended.FinishedAt)
		})
	}
}

func TestEndGameKeepsFirstFinishTime(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.room(t, 1)

	first, err := f.engine.EndGame(ctx, room.ID, host)
	require.NoError(t, err)
	f.clock.Add(time.Minute)
	again, err := f.engine.EndGame(ctx, room.ID, host)
	require.NoError(t, err)
	assert.Equal(t, *first.FinishedAt, *again.FinishedAt)
}

func TestCloseQuestionIgnoresStaleIndex(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.started(t, 2, "Ana")

	_, err := f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)
	_, err = f.engine.NextQuestion(ctx, room.ID, host)
	require.NoError(t, err)

	got, closed, err := f.engine.CloseQuestion(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.False(t, closed)
	assert.Equal(t, domain.StatusPlaying, got.Status)
	assert.Equal(t, 1, got.CurrentQuestionIndex)
}

func TestCloseQuestionOnlyClosesLiveQuestion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, _ := f.room(t, 1, "Ana")

	_, closed, err := f.engine.CloseQuestion(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.False(t, closed, "lobby rooms have nothing to close")

	_, err = f.engine.StartGame(ctx, room.ID, host)
	require.NoError(t, err)
	got, closed, err := f.engine.CloseQuestion(ctx, room.ID, 0)
	require.NoError(t, err)
	assert.True(t, closed)
	assert.Equal(t, domain.StatusResult, got.Status)

	_, err = f.engine.TransitionToResult(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestQuestionStartsStrictlyIncrease(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 3, "Ana")
	first := *room.QuestionStartTimestamp

	// host clicks through without the clock moving
	_, err := f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)
	second, err := f.engine.NextQuestion(ctx, room.ID, host)
	require.NoError(t, err)
	require.NotNil(t, second.QuestionStartTimestamp)
	assert.Greater(t, *second.QuestionStartTimestamp, first)

	res, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(0), res.ResponseTime, "a start ahead of the clock never yields a negative response time")

	// wall clock steps back
	f.clock.Set(f.clock.Now().Add(-time.Minute))
	_, err = f.engine.ForceResult(ctx, room.ID, host)
	require.NoError(t, err)
	third, err := f.engine.NextQuestion(ctx, room.ID, host)
	require.NoError(t, err)
	require.NotNil(t, third.QuestionStartTimestamp)
	assert.Greater(t, *third.QuestionStartTimestamp, *second.QuestionStartTimestamp)
	assert.Equal(t, *third.QuestionStartTimestamp, third.LastQuestionStart)
}

func TestSetConnectedKeepsScores(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	room, ps := f.started(t, 1, "Ana")
	_, err := f.engine.SubmitAnswer(ctx, room.ID, ps[0].ID, 0, 2)
	require.NoError(t, err)

	got, err := f.engine.SetConnected(ctx, room.ID, ps[0].ID, false)
	require.NoError(t, err)
	p := got.Participants[ps[0].ID]
	assert.False(t, p.Connected)
	assert.Equal(t, 120, p.TotalScore)

	_, err = f.engine.SetConnected(ctx, room.ID, "ghost", true)
	assert.ErrorIs(t, err, domain.ErrParticipantNotFound)
}
