package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

const uniqueViolation = "23505"

// RoomStore persists rooms across three tables. Per-row atomic statements
// (ON CONFLICT DO NOTHING, in-place increments) give the single-room guarantees
// the engine relies on; reads use a repeatable-read snapshot.
type RoomStore struct {
	pool *pgxpool.Pool
}

func NewRoomStore(pool *pgxpool.Pool) *RoomStore {
	return &RoomStore{pool: pool}
}

func (s *RoomStore) CreateRoom(ctx context.Context, room domain.Room) error {
	questions, err := json.Marshal(room.Questions)
	if err != nil {
		return fmt.Errorf("encode questions: %w", err)
	}

	return s.inTx(ctx, pgx.TxOptions{}, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO rooms (id, code, status, host_id, current_question_index, question_start_ts, finished_at, created_at, questions, last_question_start)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
			room.ID, domain.NormalizeCode(room.Code), string(room.Status), room.HostID,
			room.CurrentQuestionIndex, room.QuestionStartTimestamp, room.FinishedAt, room.CreatedAt, questions, room.LastQuestionStart)
		if isUniqueViolation(err, "rooms_code_key") {
			return app.ErrCodeTaken
		}
		if err != nil {
			return fmt.Errorf("insert room: %w", err)
		}
		for _, p := range room.Participants {
			if err := insertParticipant(ctx, tx, room.ID, p); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	var room *domain.Room
	err := s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		room, err = loadRoom(ctx, tx, `WHERE id = $1`, roomID)
		return err
	})
	return room, err
}

func (s *RoomStore) GetRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	var room *domain.Room
	err := s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, func(tx pgx.Tx) error {
		var err error
		room, err = loadRoom(ctx, tx, `WHERE code = $1`, domain.NormalizeCode(code))
		return err
	})
	return room, err
}

func (s *RoomStore) UpdateRoom(ctx context.Context, roomID string, update domain.RoomUpdate) error {
	var status *string
	if update.Status != nil {
		v := string(*update.Status)
		status = &v
	}
	var index *int32
	if update.CurrentQuestionIndex != nil {
		v := int32(*update.CurrentQuestionIndex)
		index = &v
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE rooms SET
			status                 = COALESCE($2::text, status),
			current_question_index = COALESCE($3::integer, current_question_index),
			question_start_ts      = CASE WHEN $4::boolean THEN $5::bigint ELSE question_start_ts END,
			finished_at            = COALESCE($6::bigint, finished_at),
			last_question_start    = COALESCE($7::bigint, last_question_start)
		WHERE id = $1`,
		roomID, status, index, update.SetQuestionStart, update.QuestionStart, update.FinishedAt, update.LastQuestionStart)
	if err != nil {
		return fmt.Errorf("update room: %w", err)
	}
	return nil
}

func (s *RoomStore) AddParticipant(ctx context.Context, roomID string, participant domain.Participant) error {
	return insertParticipant(ctx, s.pool, roomID, participant)
}

func (s *RoomStore) UpdateParticipantConnection(ctx context.Context, roomID, participantID string, connected bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE room_participants SET connected = $3 WHERE room_id = $1 AND id = $2`,
		roomID, participantID, connected)
	return err
}

func (s *RoomStore) AddAnswer(ctx context.Context, roomID string, questionIndex int, answer domain.Answer) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO room_answers (room_id, question_index, participant_id, option_index, answered_at, response_time, score)
		SELECT $1, $2, $3, $4, $5, $6, $7
		WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $1)
		ON CONFLICT (room_id, question_index, participant_id) DO NOTHING`,
		roomID, int32(questionIndex), answer.ParticipantID, int32(answer.OptionIndex),
		answer.Timestamp, answer.ResponseTime, int32(answer.Score))
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM rooms WHERE id = $1)`, roomID).Scan(&exists); err != nil {
		return err
	}
	if exists {
		return domain.ErrDuplicateAnswer
	}
	return nil
}

func (s *RoomStore) UpdateParticipantScore(ctx context.Context, roomID, participantID string, scoreIncrement int, responseTimeIncrement int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE room_participants SET
			total_score         = total_score + $3,
			total_response_time = total_response_time + $4,
			questions_answered  = questions_answered + 1
		WHERE room_id = $1 AND id = $2`,
		roomID, participantID, int32(scoreIncrement), responseTimeIncrement)
	return err
}

func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM rooms WHERE id = $1`, roomID)
	return err
}

func (s *RoomStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM rooms ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rooms := make([]domain.Room, 0, len(ids))
	for _, id := range ids {
		room, err := s.GetRoom(ctx, id)
		if err != nil {
			return nil, err
		}
		if room != nil {
			rooms = append(rooms, *room)
		}
	}
	return rooms, nil
}

func (s *RoomStore) inTx(ctx context.Context, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

func insertParticipant(ctx context.Context, db execer, roomID string, p domain.Participant) error {
	_, err := db.Exec(ctx, `
		INSERT INTO room_participants (room_id, id, name, total_score, total_response_time, questions_answered, joined_at, connected)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE EXISTS (SELECT 1 FROM rooms WHERE id = $1)
		ON CONFLICT (room_id, id) DO NOTHING`,
		roomID, p.ID, p.Name, int32(p.TotalScore), p.TotalResponseTime, int32(p.QuestionsAnswered), p.JoinedAt, p.Connected)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}
	return nil
}

func loadRoom(ctx context.Context, tx pgx.Tx, where string, arg string) (*domain.Room, error) {
	var (
		room      domain.Room
		status    string
		index     int32
		questions []byte
	)
	err := tx.QueryRow(ctx, `
		SELECT id, code, status, host_id, current_question_index, question_start_ts, finished_at, created_at, questions, last_question_start
		FROM rooms `+where, arg).
		Scan(&room.ID, &room.Code, &status, &room.HostID, &index,
			&room.QuestionStartTimestamp, &room.FinishedAt, &room.CreatedAt, &questions, &room.LastQuestionStart)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select room: %w", err)
	}
	room.Status = domain.RoomStatus(status)
	room.CurrentQuestionIndex = int(index)
	if err := json.Unmarshal(questions, &room.Questions); err != nil {
		return nil, fmt.Errorf("decode questions: %w", err)
	}

	room.Participants = make(map[string]domain.Participant)
	rows, err := tx.Query(ctx, `
		SELECT id, name, total_score, total_response_time, questions_answered, joined_at, connected
		FROM room_participants WHERE room_id = $1`, room.ID)
	if err != nil {
		return nil, fmt.Errorf("select participants: %w", err)
	}
	for rows.Next() {
		var (
			p             domain.Participant
			score, counts int32
		)
		if err := rows.Scan(&p.ID, &p.Name, &score, &p.TotalResponseTime, &counts, &p.JoinedAt, &p.Connected); err != nil {
			rows.Close()
			return nil, err
		}
		p.TotalScore = int(score)
		p.QuestionsAnswered = int(counts)
		room.Participants[p.ID] = p
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	room.Answers = make(map[string]map[string]domain.Answer)
	rows, err = tx.Query(ctx, `
		SELECT question_index, participant_id, option_index, answered_at, response_time, score
		FROM room_answers WHERE room_id = $1`, room.ID)
	if err != nil {
		return nil, fmt.Errorf("select answers: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			a                     domain.Answer
			question, opt, points int32
		)
		if err := rows.Scan(&question, &a.ParticipantID, &opt, &a.Timestamp, &a.ResponseTime, &points); err != nil {
			return nil, err
		}
		a.OptionIndex = int(opt)
		a.Score = int(points)
		key := domain.QuestionKey(int(question))
		if room.Answers[key] == nil {
			room.Answers[key] = make(map[string]domain.Answer)
		}
		room.Answers[key][a.ParticipantID] = a
	}
	return &room, rows.Err()
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == uniqueViolation && (constraint == "" || pgErr.ConstraintName == constraint)
}
