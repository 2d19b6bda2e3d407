package app

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"quiz-room-service/internal/domain"
)

const (
	// CodeAlphabet leaves out I, O, 0 and 1 so codes can be read aloud.
	CodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	maxCodeAttempts = 32
)

// Engine contains the room state machine and its scoring rules.
// Mutations of one room are serialized; different rooms never block each other.
type Engine struct {
	store   RoomStore
	rules   Rules
	clock   clock.Clock
	newID   func() string
	newCode func() string
	locks   *roomLocks
}

// Option customizes an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock, mostly for deterministic tests.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

func WithRules(r Rules) Option {
	return func(e *Engine) { e.rules = r }
}

func WithIDGenerator(fn func() string) Option {
	return func(e *Engine) { e.newID = fn }
}

func WithCodeGenerator(fn func() string) Option {
	return func(e *Engine) { e.newCode = fn }
}

func NewEngine(store RoomStore, opts ...Option) *Engine {
	e := &Engine{
		store:   store,
		rules:   DefaultRules(),
		clock:   clock.New(),
		newID:   uuid.NewString,
		newCode: GenerateCode,
		locks:   newRoomLocks(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Rules returns the timing and scoring rules in effect.
func (e *Engine) Rules() Rules {
	return e.rules
}

// GenerateCode draws a random join code from CodeAlphabet.
func GenerateCode() string {
	var b strings.Builder
	b.Grow(CodeLength)
	for i := 0; i < CodeLength; i++ {
		b.WriteByte(CodeAlphabet[rand.IntN(len(CodeAlphabet))])
	}
	return b.String()
}

// AnswerResult is the outcome of an accepted submission.
type AnswerResult struct {
	Correct      bool
	Score        int
	CorrectIndex int
	ResponseTime int64
	// ShouldClose tells the caller to move the question to result.
	ShouldClose bool
	Count       domain.AnswerCount
	Room        domain.Room
}

func (e *Engine) now() int64 {
	return e.clock.Now().UnixMilli()
}

// questionStart stamps a new question strictly after the previous one, even when the
// clock has not moved or stepped back.
func (e *Engine) questionStart(room domain.Room) int64 {
	now := e.now()
	if room.LastQuestionStart > 0 && now <= room.LastQuestionStart {
		return room.LastQuestionStart + 1
	}
	return now
}

// CreateRoom opens a new room in the lobby with a fresh id and join code.
func (e *Engine) CreateRoom(ctx context.Context, questions []domain.Question, hostID string) (domain.Room, error) {
	if strings.TrimSpace(hostID) == "" {
		return domain.Room{}, domain.ErrHostRequired
	}
	if err := validateQuestions(questions); err != nil {
		return domain.Room{}, err
	}

	room := domain.Room{
		ID:           e.newID(),
		Status:       domain.StatusWaiting,
		HostID:       hostID,
		CreatedAt:    e.now(),
		Participants: make(map[string]domain.Participant),
		Questions:    questions,
		Answers:      make(map[string]map[string]domain.Answer),
	}
	room = room.Clone()

	for attempt := 0; attempt < maxCodeAttempts; attempt++ {
		code := e.newCode()
		existing, err := e.store.GetRoomByCode(ctx, code)
		if err != nil {
			return domain.Room{}, fmt.Errorf("lookup room code: %w", err)
		}
		if existing != nil {
			continue
		}
		room.Code = code
		err = e.store.CreateRoom(ctx, room)
		if errors.Is(err, ErrCodeTaken) {
			continue
		}
		if err != nil {
			return domain.Room{}, fmt.Errorf("create room: %w", err)
		}
		return room.Clone(), nil
	}
	return domain.Room{}, domain.ErrCodeSpaceExhausted
}

func validateQuestions(questions []domain.Question) error {
	if len(questions) == 0 {
		return domain.ErrInvalidQuiz
	}
	for _, q := range questions {
		if len(q.Options) != domain.OptionsPerQuestion {
			return domain.ErrInvalidQuiz
		}
		if q.CorrectOptionIndex < 0 || q.CorrectOptionIndex >= len(q.Options) {
			return domain.ErrInvalidQuiz
		}
	}
	return nil
}

// JoinRoom adds a participant to a room still in its lobby.
func (e *Engine) JoinRoom(ctx context.Context, code, name string) (domain.Room, domain.Participant, error) {
	found, err := e.store.GetRoomByCode(ctx, domain.NormalizeCode(code))
	if err != nil {
		return domain.Room{}, domain.Participant{}, fmt.Errorf("lookup room code: %w", err)
	}
	if found == nil {
		return domain.Room{}, domain.Participant{}, domain.ErrRoomNotFound
	}

	unlock := e.locks.lock(found.ID)
	defer unlock()

	room, err := e.load(ctx, found.ID)
	if err != nil {
		return domain.Room{}, domain.Participant{}, err
	}
	if room.Status != domain.StatusWaiting {
		return domain.Room{}, domain.Participant{}, domain.ErrRoomAlreadyStarted
	}

	trimmed := domain.NormalizeName(name)
	if trimmed == "" {
		return domain.Room{}, domain.Participant{}, domain.ErrInvalidName
	}
	for _, p := range room.Participants {
		if strings.EqualFold(domain.NormalizeName(p.Name), trimmed) {
			return domain.Room{}, domain.Participant{}, domain.ErrDuplicateName
		}
	}

	participant := domain.Participant{
		ID:        e.newID(),
		Name:      trimmed,
		JoinedAt:  e.now(),
		Connected: true,
	}
	if err := e.store.AddParticipant(ctx, room.ID, participant); err != nil {
		return domain.Room{}, domain.Participant{}, fmt.Errorf("add participant: %w", err)
	}

	updated, err := e.load(ctx, room.ID)
	if err != nil {
		return domain.Room{}, domain.Participant{}, err
	}
	return updated, participant, nil
}

// StartGame moves the lobby to the first question.
func (e *Engine) StartGame(ctx context.Context, roomID, hostID string) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.loadAsHost(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.Status != domain.StatusWaiting {
		return domain.Room{}, domain.ErrRoomAlreadyStarted
	}

	playing := domain.StatusPlaying
	first := 0
	start := e.questionStart(room)
	return e.updateAndReload(ctx, roomID, domain.RoomUpdate{
		Status:               &playing,
		CurrentQuestionIndex: &first,
		SetQuestionStart:     true,
		QuestionStart:        &start,
		LastQuestionStart:    &start,
	})
}

// SubmitAnswer records a participant's answer for the live question and scores it.
func (e *Engine) SubmitAnswer(ctx context.Context, roomID, participantID string, questionIndex, optionIndex int) (AnswerResult, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.load(ctx, roomID)
	if err != nil {
		return AnswerResult{}, err
	}
	if room.Status != domain.StatusPlaying {
		return AnswerResult{}, domain.ErrGameNotInProgress
	}
	if questionIndex < 0 || questionIndex >= len(room.Questions) || questionIndex != room.CurrentQuestionIndex {
		return AnswerResult{}, domain.ErrInvalidQuestion
	}
	if _, ok := room.Participants[participantID]; !ok {
		return AnswerResult{}, domain.ErrParticipantNotFound
	}
	question := room.Questions[questionIndex]
	if optionIndex < 0 || optionIndex >= len(question.Options) {
		return AnswerResult{}, domain.ErrInvalidOption
	}
	if _, answered := room.Answer(questionIndex, participantID); answered {
		return AnswerResult{}, domain.ErrDuplicateAnswer
	}
	if room.QuestionStartTimestamp == nil {
		return AnswerResult{}, domain.ErrInvalidTimestamp
	}

	now := e.now()
	responseTime := now - *room.QuestionStartTimestamp
	if responseTime < 0 {
		responseTime = 0
	}
	if e.rules.Expired(responseTime) {
		return AnswerResult{}, domain.ErrTimeExpired
	}

	correct := optionIndex == question.CorrectOptionIndex
	score := e.rules.Score(correct, responseTime)
	answer := domain.Answer{
		ParticipantID: participantID,
		OptionIndex:   optionIndex,
		Timestamp:     now,
		ResponseTime:  responseTime,
		Score:         score,
	}
	if err := e.store.AddAnswer(ctx, roomID, questionIndex, answer); err != nil {
		if errors.Is(err, domain.ErrDuplicateAnswer) {
			return AnswerResult{}, domain.ErrDuplicateAnswer
		}
		return AnswerResult{}, fmt.Errorf("add answer: %w", err)
	}
	if correct && score > 0 {
		if err := e.store.UpdateParticipantScore(ctx, roomID, participantID, score, responseTime); err != nil {
			return AnswerResult{}, fmt.Errorf("update score: %w", err)
		}
	}

	updated, err := e.load(ctx, roomID)
	if err != nil {
		return AnswerResult{}, err
	}
	count := CountAnswers(updated, questionIndex)
	return AnswerResult{
		Correct:      correct,
		Score:        score,
		CorrectIndex: question.CorrectOptionIndex,
		ResponseTime: responseTime,
		ShouldClose:  e.rules.ShouldClose(count, responseTime),
		Count:        count,
		Room:         updated,
	}, nil
}

// NextQuestion advances from a revealed result to the next question, or finishes the game.
func (e *Engine) NextQuestion(ctx context.Context, roomID, hostID string) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.loadAsHost(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.Status != domain.StatusResult {
		return domain.Room{}, domain.ErrInvalidStatus
	}

	next := room.CurrentQuestionIndex + 1
	if next < len(room.Questions) {
		playing := domain.StatusPlaying
		start := e.questionStart(room)
		return e.updateAndReload(ctx, roomID, domain.RoomUpdate{
			Status:               &playing,
			CurrentQuestionIndex: &next,
			SetQuestionStart:     true,
			QuestionStart:        &start,
			LastQuestionStart:    &start,
		})
	}

	now := e.now()
	finished := domain.StatusFinished
	return e.updateAndReload(ctx, roomID, domain.RoomUpdate{
		Status:               &finished,
		CurrentQuestionIndex: &next,
		SetQuestionStart:     true,
		FinishedAt:           &now,
	})
}

// ForceResult lets the host close the live question before everyone answered.
func (e *Engine) ForceResult(ctx context.Context, roomID, hostID string) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.loadAsHost(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.Status != domain.StatusPlaying {
		return domain.Room{}, domain.ErrInvalidStatus
	}
	return e.toResult(ctx, roomID)
}

// EndGame finishes the room from any status.
func (e *Engine) EndGame(ctx context.Context, roomID, hostID string) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.loadAsHost(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}

	finished := domain.StatusFinished
	update := domain.RoomUpdate{Status: &finished, SetQuestionStart: true}
	if room.FinishedAt == nil {
		now := e.now()
		update.FinishedAt = &now
	}
	return e.updateAndReload(ctx, roomID, update)
}

// TransitionToResult moves the room to result without any authorization; system use only.
func (e *Engine) TransitionToResult(ctx context.Context, roomID string) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	if _, err := e.load(ctx, roomID); err != nil {
		return domain.Room{}, err
	}
	return e.toResult(ctx, roomID)
}

// CloseQuestion moves the room to result only while questionIndex is still the live question.
// closed is false when the room already moved on.
func (e *Engine) CloseQuestion(ctx context.Context, roomID string, questionIndex int) (domain.Room, bool, error) {
	return e.closeIf(ctx, roomID, func(room domain.Room) bool {
		return room.Status == domain.StatusPlaying && room.CurrentQuestionIndex == questionIndex
	})
}

func (e *Engine) closeIf(ctx context.Context, roomID string, live func(domain.Room) bool) (domain.Room, bool, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.load(ctx, roomID)
	if err != nil {
		return domain.Room{}, false, err
	}
	if !live(room) {
		return room, false, nil
	}
	updated, err := e.toResult(ctx, roomID)
	if err != nil {
		return domain.Room{}, false, err
	}
	return updated, true, nil
}

// SetConnected flips a participant's liveness flag without touching their scores.
func (e *Engine) SetConnected(ctx context.Context, roomID, participantID string, connected bool) (domain.Room, error) {
	unlock := e.locks.lock(roomID)
	defer unlock()

	room, err := e.load(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if _, ok := room.Participants[participantID]; !ok {
		return domain.Room{}, domain.ErrParticipantNotFound
	}
	if err := e.store.UpdateParticipantConnection(ctx, roomID, participantID, connected); err != nil {
		return domain.Room{}, fmt.Errorf("update connection: %w", err)
	}
	return e.load(ctx, roomID)
}

// GetRoom returns the canonical room snapshot.
func (e *Engine) GetRoom(ctx context.Context, roomID string) (domain.Room, error) {
	return e.load(ctx, roomID)
}

// Ranking is the computed leaderboard for a snapshot.
func (e *Engine) Ranking(room domain.Room) []domain.RankedParticipant {
	return Rank(room)
}

// AnswerCount is the "N of M responded" projection for a snapshot.
func (e *Engine) AnswerCount(room domain.Room, questionIndex int) domain.AnswerCount {
	return CountAnswers(room, questionIndex)
}

func (e *Engine) toResult(ctx context.Context, roomID string) (domain.Room, error) {
	result := domain.StatusResult
	return e.updateAndReload(ctx, roomID, domain.RoomUpdate{
		Status:           &result,
		SetQuestionStart: true,
	})
}

func (e *Engine) updateAndReload(ctx context.Context, roomID string, update domain.RoomUpdate) (domain.Room, error) {
	if err := e.store.UpdateRoom(ctx, roomID, update); err != nil {
		return domain.Room{}, fmt.Errorf("update room: %w", err)
	}
	return e.load(ctx, roomID)
}

func (e *Engine) load(ctx context.Context, roomID string) (domain.Room, error) {
	room, err := e.store.GetRoom(ctx, roomID)
	if err != nil {
		return domain.Room{}, fmt.Errorf("get room: %w", err)
	}
	if room == nil {
		return domain.Room{}, domain.ErrRoomNotFound
	}
	return *room, nil
}

func (e *Engine) loadAsHost(ctx context.Context, roomID, hostID string) (domain.Room, error) {
	room, err := e.load(ctx, roomID)
	if err != nil {
		return domain.Room{}, err
	}
	if room.HostID != hostID {
		return domain.Room{}, domain.ErrNotHost
	}
	return room, nil
}
