package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/domain"
)

const feedBuffer = 32

// RoomFeed relays room events through Redis pub/sub so every instance sees them.
type RoomFeed struct {
	client redis.UniversalClient
	log    zerolog.Logger
}

type envelope struct {
	Type    domain.EventType `json:"type"`
	Payload json.RawMessage  `json:"payload,omitempty"`
	Exclude string           `json:"exclude,omitempty"`
}

func NewRoomFeed(client redis.UniversalClient, log zerolog.Logger) *RoomFeed {
	return &RoomFeed{client: client, log: log}
}

func (f *RoomFeed) Publish(ctx context.Context, roomID string, evt domain.Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", evt.Type, err)
	}
	msg, err := json.Marshal(envelope{Type: evt.Type, Payload: payload, Exclude: evt.Exclude})
	if err != nil {
		return err
	}
	return f.client.Publish(ctx, feedChannel(roomID), msg).Err()
}

// Subscribe returns once Redis confirmed the subscription, so nothing published afterwards is missed.
// Payloads arrive as json.RawMessage.
func (f *RoomFeed) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	sub := f.client.Subscribe(ctx, feedChannel(roomID))
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", roomID, err)
	}

	out := make(chan domain.Event, feedBuffer)
	go func() {
		defer close(out)
		for msg := range sub.Channel() {
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				f.log.Warn().Err(err).Str("room_id", roomID).Msg("dropping malformed room event")
				continue
			}
			evt := domain.Event{Type: env.Type, Payload: env.Payload, Exclude: env.Exclude}
			select {
			case out <- evt:
			default:
				select {
				case <-out:
				default:
				}
				select {
				case out <- evt:
				default:
				}
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() { _ = sub.Close() })
	}
	return out, cancel, nil
}

func feedChannel(roomID string) string {
	return "room:" + roomID + ":events"
}
