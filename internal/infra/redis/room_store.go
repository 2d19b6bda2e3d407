package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

const maxTxRetries = 16

var errTxConflict = errors.New("redis: too many concurrent writers")

// RoomStore keeps each room in a handful of Redis keys:
//
//	room:{id}               hash of scalar room fields, questions as JSON
//	room:{id}:participants  hash participantID -> participant JSON
//	room:{id}:answers       hash "{question}:{participantID}" -> answer JSON
//	roomcode:{CODE}         room id, claimed with SETNX
//	rooms                   set of live room ids
//
// Every key of a room, its join code included, shares the same TTL and every write
// refreshes it, so abandoned rooms age out on their own.
type RoomStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	sf     singleflight.Group
}

func NewRoomStore(client redis.UniversalClient, ttl time.Duration) *RoomStore {
	return &RoomStore{client: client, ttl: ttl}
}

func (s *RoomStore) CreateRoom(ctx context.Context, room domain.Room) error {
	code := domain.NormalizeCode(room.Code)
	claimed, err := s.client.SetNX(ctx, codeKey(code), room.ID, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("claim code: %w", err)
	}
	if !claimed {
		return app.ErrCodeTaken
	}

	questions, err := json.Marshal(room.Questions)
	if err != nil {
		return err
	}
	fields := map[string]interface{}{
		"id":                     room.ID,
		"code":                   code,
		"status":                 string(room.Status),
		"host_id":                room.HostID,
		"current_question_index": room.CurrentQuestionIndex,
		"created_at":             room.CreatedAt,
		"questions":              string(questions),
	}
	if room.QuestionStartTimestamp != nil {
		fields["question_start"] = *room.QuestionStartTimestamp
	}
	if room.FinishedAt != nil {
		fields["finished_at"] = *room.FinishedAt
	}
	if room.LastQuestionStart != 0 {
		fields["last_question_start"] = room.LastQuestionStart
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, roomKey(room.ID), fields)
		for _, p := range room.Participants {
			encoded, err := json.Marshal(p)
			if err != nil {
				return err
			}
			pipe.HSet(ctx, participantsKey(room.ID), p.ID, encoded)
		}
		pipe.SAdd(ctx, roomsKey, room.ID)
		s.expire(ctx, pipe, room.ID, code)
		return nil
	})
	if err != nil {
		s.client.Del(ctx, codeKey(code))
		return fmt.Errorf("write room: %w", err)
	}
	return nil
}

func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	pipe := s.client.Pipeline()
	scalars := pipe.HGetAll(ctx, roomKey(roomID))
	participants := pipe.HGetAll(ctx, participantsKey(roomID))
	answers := pipe.HGetAll(ctx, answersKey(roomID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}
	if len(scalars.Val()) == 0 {
		return nil, nil
	}
	return decodeRoom(scalars.Val(), participants.Val(), answers.Val())
}

// GetRoomByCode collapses concurrent lookups of the same code into one round trip.
func (s *RoomStore) GetRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeCode(code)
	result, err, _ := s.sf.Do(code, func() (interface{}, error) {
		roomID, err := s.client.Get(ctx, codeKey(code)).Result()
		if errors.Is(err, redis.Nil) {
			return (*domain.Room)(nil), nil
		}
		if err != nil {
			return nil, err
		}
		return s.GetRoom(ctx, roomID)
	})
	if err != nil {
		return nil, err
	}
	room, _ := result.(*domain.Room)
	if room == nil {
		return nil, nil
	}
	out := room.Clone()
	return &out, nil
}

func (s *RoomStore) UpdateRoom(ctx context.Context, roomID string, update domain.RoomUpdate) error {
	key := roomKey(roomID)
	return s.retryTx(ctx, func(tx *redis.Tx) error {
		code, err := tx.HGet(ctx, key, "code").Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}

		set := map[string]interface{}{}
		var del []string
		if update.Status != nil {
			set["status"] = string(*update.Status)
		}
		if update.CurrentQuestionIndex != nil {
			set["current_question_index"] = *update.CurrentQuestionIndex
		}
		if update.SetQuestionStart {
			if update.QuestionStart != nil {
				set["question_start"] = *update.QuestionStart
			} else {
				del = append(del, "question_start")
			}
		}
		if update.LastQuestionStart != nil {
			set["last_question_start"] = *update.LastQuestionStart
		}
		if update.FinishedAt != nil {
			set["finished_at"] = *update.FinishedAt
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			if len(set) > 0 {
				pipe.HSet(ctx, key, set)
			}
			if len(del) > 0 {
				pipe.HDel(ctx, key, del...)
			}
			s.expire(ctx, pipe, roomID, code)
			return nil
		})
		return err
	}, key)
}

func (s *RoomStore) AddParticipant(ctx context.Context, roomID string, participant domain.Participant) error {
	code, found, err := s.roomCode(ctx, s.client, roomID)
	if err != nil || !found {
		return err
	}
	encoded, err := json.Marshal(participant)
	if err != nil {
		return err
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, participantsKey(roomID), participant.ID, encoded)
		s.expire(ctx, pipe, roomID, code)
		return nil
	})
	return err
}

func (s *RoomStore) UpdateParticipantConnection(ctx context.Context, roomID, participantID string, connected bool) error {
	return s.updateParticipant(ctx, roomID, participantID, func(p *domain.Participant) {
		p.Connected = connected
	})
}

// AddAnswer relies on HSETNX so only the first answer for a (question, participant) pair lands.
func (s *RoomStore) AddAnswer(ctx context.Context, roomID string, questionIndex int, answer domain.Answer) error {
	code, found, err := s.roomCode(ctx, s.client, roomID)
	if err != nil || !found {
		return err
	}
	encoded, err := json.Marshal(answer)
	if err != nil {
		return err
	}

	var inserted *redis.BoolCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		inserted = pipe.HSetNX(ctx, answersKey(roomID), answerField(questionIndex, answer.ParticipantID), encoded)
		s.expire(ctx, pipe, roomID, code)
		return nil
	})
	if err != nil {
		return err
	}
	if !inserted.Val() {
		return domain.ErrDuplicateAnswer
	}
	return nil
}

func (s *RoomStore) UpdateParticipantScore(ctx context.Context, roomID, participantID string, scoreIncrement int, responseTimeIncrement int64) error {
	return s.updateParticipant(ctx, roomID, participantID, func(p *domain.Participant) {
		p.TotalScore += scoreIncrement
		p.TotalResponseTime += responseTimeIncrement
		p.QuestionsAnswered++
	})
}

func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	code, err := s.client.HGet(ctx, roomKey(roomID), "code").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	if code != "" {
		owner, err := s.client.Get(ctx, codeKey(code)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if owner == roomID {
			s.client.Del(ctx, codeKey(code))
		}
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, roomKey(roomID), participantsKey(roomID), answersKey(roomID))
		pipe.SRem(ctx, roomsKey, roomID)
		return nil
	})
	return err
}

// ListRooms also prunes ids whose keys already expired.
func (s *RoomStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	ids, err := s.client.SMembers(ctx, roomsKey).Result()
	if err != nil {
		return nil, err
	}
	rooms := make([]domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if room == nil {
			s.client.SRem(ctx, roomsKey, id)
			continue
		}
		rooms = append(rooms, *room)
	}
	return rooms, nil
}

func (s *RoomStore) updateParticipant(ctx context.Context, roomID, participantID string, mutate func(*domain.Participant)) error {
	key := participantsKey(roomID)
	return s.retryTx(ctx, func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, key, participantID).Result()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var participant domain.Participant
		if err := json.Unmarshal([]byte(raw), &participant); err != nil {
			return fmt.Errorf("decode participant: %w", err)
		}
		mutate(&participant)
		encoded, err := json.Marshal(participant)
		if err != nil {
			return err
		}
		code, found, err := s.roomCode(ctx, tx, roomID)
		if err != nil || !found {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, participantID, encoded)
			s.expire(ctx, pipe, roomID, code)
			return nil
		})
		return err
	}, key)
}

// retryTx runs fn under WATCH and retries when another writer touched the keys first.
func (s *RoomStore) retryTx(ctx context.Context, fn func(*redis.Tx) error, keys ...string) error {
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		err := s.client.Watch(ctx, fn, keys...)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return errTxConflict
}

type hashReader interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// roomCode reads the join code of a live room; found is false once the room is gone.
func (s *RoomStore) roomCode(ctx context.Context, c hashReader, roomID string) (string, bool, error) {
	code, err := c.HGet(ctx, roomKey(roomID), "code").Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return code, true, nil
}

// expire pushes back the TTL of every key of the room, the join code claim included.
func (s *RoomStore) expire(ctx context.Context, pipe redis.Pipeliner, roomID, code string) {
	if s.ttl <= 0 {
		return
	}
	pipe.Expire(ctx, roomKey(roomID), s.ttl)
	pipe.Expire(ctx, participantsKey(roomID), s.ttl)
	pipe.Expire(ctx, answersKey(roomID), s.ttl)
	if code != "" {
		pipe.Expire(ctx, codeKey(code), s.ttl)
	}
}

func decodeRoom(scalars, participants, answers map[string]string) (*domain.Room, error) {
	room := domain.Room{
		ID:           scalars["id"],
		Code:         scalars["code"],
		Status:       domain.RoomStatus(scalars["status"]),
		HostID:       scalars["host_id"],
		Participants: make(map[string]domain.Participant, len(participants)),
		Answers:      make(map[string]map[string]domain.Answer),
	}
	var err error
	if room.CurrentQuestionIndex, err = strconv.Atoi(scalars["current_question_index"]); err != nil {
		return nil, fmt.Errorf("decode question index: %w", err)
	}
	if room.CreatedAt, err = strconv.ParseInt(scalars["created_at"], 10, 64); err != nil {
		return nil, fmt.Errorf("decode created_at: %w", err)
	}
	if room.QuestionStartTimestamp, err = optionalInt(scalars, "question_start"); err != nil {
		return nil, err
	}
	if room.FinishedAt, err = optionalInt(scalars, "finished_at"); err != nil {
		return nil, err
	}
	if last, err := optionalInt(scalars, "last_question_start"); err != nil {
		return nil, err
	} else if last != nil {
		room.LastQuestionStart = *last
	}
	if err := json.Unmarshal([]byte(scalars["questions"]), &room.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	for id, raw := range participants {
		var p domain.Participant
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			return nil, fmt.Errorf("decode participant %s: %w", id, err)
		}
		room.Participants[id] = p
	}
	for field, raw := range answers {
		question, participantID, ok := strings.Cut(field, ":")
		if !ok {
			continue
		}
		var a domain.Answer
		if err := json.Unmarshal([]byte(raw), &a); err != nil {
			return nil, fmt.Errorf("decode answer %s: %w", field, err)
		}
		if room.Answers[question] == nil {
			room.Answers[question] = make(map[string]domain.Answer)
		}
		room.Answers[question][participantID] = a
	}
	return &room, nil
}

func optionalInt(fields map[string]string, name string) (*int64, error) {
	raw, ok := fields[name]
	if !ok || raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return &v, nil
}

const roomsKey = "rooms"

func roomKey(roomID string) string         { return "room:" + roomID }
func participantsKey(roomID string) string { return "room:" + roomID + ":participants" }
func answersKey(roomID string) string      { return "room:" + roomID + ":answers" }
func codeKey(code string) string           { return "roomcode:" + code }

func answerField(questionIndex int, participantID string) string {
	return domain.QuestionKey(questionIndex) + ":" + participantID
}
