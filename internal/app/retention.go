package app

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

// Sweeper deletes finished rooms once they are older than the retention horizon.
type Sweeper struct {
	store   RoomStore
	clock   clock.Clock
	horizon time.Duration
	log     zerolog.Logger
}

func NewSweeper(store RoomStore, clk clock.Clock, horizon time.Duration, log zerolog.Logger) *Sweeper {
	return &Sweeper{store: store, clock: clk, horizon: horizon, log: log}
}

// Expired reports whether a room is eligible for deletion at now.
// Finished rooms without any timestamp are always eligible.
func (s *Sweeper) Expired(room domain.Room, now time.Time) bool {
	if room.Status != domain.StatusFinished {
		return false
	}
	ts := room.FinishedAt
	if ts == nil {
		ts = room.QuestionStartTimestamp
	}
	if ts == nil {
		return true
	}
	return now.UnixMilli()-*ts > s.horizon.Milliseconds()
}

// Sweep runs one pass and returns how many rooms were deleted.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	rooms, err := s.store.ListRooms(ctx)
	if err != nil {
		return 0, fmt.Errorf("list rooms: %w", err)
	}

	now := s.clock.Now()
	deleted := 0
	for _, room := range rooms {
		if !s.Expired(room, now) {
			continue
		}
		if err := s.store.DeleteRoom(ctx, room.ID); err != nil {
			return deleted, fmt.Errorf("delete room %s: %w", room.ID, err)
		}
		deleted++
		s.log.Debug().Str("room_id", room.ID).Str("code", room.Code).Msg("finished room removed")
	}
	return deleted, nil
}

// Run sweeps every interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := s.clock.Ticker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := s.Sweep(ctx)
			if err != nil {
				s.log.Error().Err(err).Msg("retention sweep failed")
				continue
			}
			if n > 0 {
				s.log.Info().Int("deleted", n).Msg("retention sweep")
			}
		}
	}
}
