package memory

import (
	"context"
	"sync"

	"quiz-room-service/internal/domain"
)

const subscriberBuffer = 32

// RoomFeed fans room events out to in-process subscribers.
type RoomFeed struct {
	mu    sync.RWMutex
	rooms map[string]map[chan domain.Event]struct{}
}

func NewRoomFeed() *RoomFeed {
	return &RoomFeed{rooms: make(map[string]map[chan domain.Event]struct{})}
}

// Publish delivers evt to every subscriber of the room without blocking on slow readers.
func (f *RoomFeed) Publish(_ context.Context, roomID string, evt domain.Event) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for ch := range f.rooms[roomID] {
		select {
		case ch <- evt:
		default:
			// drop the oldest queued event so the newest snapshot still gets through
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}
	return nil
}

// Subscribe returns a channel of room events. The caller must invoke the returned cancel function to avoid leaks.
func (f *RoomFeed) Subscribe(_ context.Context, roomID string) (<-chan domain.Event, func(), error) {
	ch := make(chan domain.Event, subscriberBuffer)

	f.mu.Lock()
	subs, ok := f.rooms[roomID]
	if !ok {
		subs = make(map[chan domain.Event]struct{})
		f.rooms[roomID] = subs
	}
	subs[ch] = struct{}{}
	f.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if subs, ok := f.rooms[roomID]; ok {
				delete(subs, ch)
				if len(subs) == 0 {
					delete(f.rooms, roomID)
				}
			}
			close(ch)
		})
	}
	return ch, cancel, nil
}

// Subscribers reports how many subscribers a room has.
func (f *RoomFeed) Subscribers(roomID string) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.rooms[roomID])
}
