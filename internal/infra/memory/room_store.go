package memory

import (
	"context"
	"sync"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// RoomStore is an in-memory implementation of app.RoomStore.
// Rooms are copied on the way in and out so callers never share maps with the store.
type RoomStore struct {
	mu     sync.RWMutex
	rooms  map[string]*domain.Room
	byCode map[string]string
}

func NewRoomStore() *RoomStore {
	return &RoomStore{
		rooms:  make(map[string]*domain.Room),
		byCode: make(map[string]string),
	}
}

func (s *RoomStore) CreateRoom(_ context.Context, room domain.Room) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := domain.NormalizeCode(room.Code)
	if _, taken := s.byCode[code]; taken {
		return app.ErrCodeTaken
	}
	stored := room.Clone()
	stored.Code = code
	s.rooms[room.ID] = &stored
	s.byCode[code] = room.ID
	return nil
}

func (s *RoomStore) GetRoom(_ context.Context, roomID string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil, nil
	}
	out := room.Clone()
	return &out, nil
}

func (s *RoomStore) GetRoomByCode(_ context.Context, code string) (*domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	roomID, ok := s.byCode[domain.NormalizeCode(code)]
	if !ok {
		return nil, nil
	}
	out := s.rooms[roomID].Clone()
	return &out, nil
}

func (s *RoomStore) UpdateRoom(_ context.Context, roomID string, update domain.RoomUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		update.Apply(room)
	}
	return nil
}

func (s *RoomStore) AddParticipant(_ context.Context, roomID string, participant domain.Participant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if room, ok := s.rooms[roomID]; ok {
		room.Participants[participant.ID] = participant
	}
	return nil
}

func (s *RoomStore) UpdateParticipantConnection(_ context.Context, roomID, participantID string, connected bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if participant, ok := room.Participants[participantID]; ok {
		participant.Connected = connected
		room.Participants[participantID] = participant
	}
	return nil
}

func (s *RoomStore) AddAnswer(_ context.Context, roomID string, questionIndex int, answer domain.Answer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	key := domain.QuestionKey(questionIndex)
	byParticipant, ok := room.Answers[key]
	if !ok {
		byParticipant = make(map[string]domain.Answer)
		room.Answers[key] = byParticipant
	}
	if _, exists := byParticipant[answer.ParticipantID]; exists {
		return domain.ErrDuplicateAnswer
	}
	byParticipant[answer.ParticipantID] = answer
	return nil
}

func (s *RoomStore) UpdateParticipantScore(_ context.Context, roomID, participantID string, scoreIncrement int, responseTimeIncrement int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	participant, ok := room.Participants[participantID]
	if !ok {
		return nil
	}
	participant.TotalScore += scoreIncrement
	participant.TotalResponseTime += responseTimeIncrement
	participant.QuestionsAnswered++
	room.Participants[participantID] = participant
	return nil
}

func (s *RoomStore) DeleteRoom(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	room, ok := s.rooms[roomID]
	if !ok {
		return nil
	}
	if s.byCode[room.Code] == roomID {
		delete(s.byCode, room.Code)
	}
	delete(s.rooms, roomID)
	return nil
}

func (s *RoomStore) ListRooms(_ context.Context) ([]domain.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rooms := make([]domain.Room, 0, len(s.rooms))
	for _, room := range s.rooms {
		rooms = append(rooms, room.Clone())
	}
	return rooms, nil
}
