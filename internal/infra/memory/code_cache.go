package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"golang.org/x/sync/singleflight"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

// CodeCache wraps a RoomStore and remembers which room a join code resolves to.
// Only the code to id mapping is cached; room state is always read from the wrapped store.
// Misses are never cached so a freshly created room is visible immediately.
type CodeCache struct {
	app.RoomStore

	ttl   time.Duration
	clock clock.Clock
	sf    singleflight.Group
	rndMu sync.Mutex
	rnd   *rand.Rand

	mu      sync.RWMutex
	entries map[string]cachedCode
}

type cachedCode struct {
	roomID    string
	expiresAt time.Time
}

func NewCodeCache(store app.RoomStore, ttl time.Duration, clk clock.Clock) *CodeCache {
	if clk == nil {
		clk = clock.New()
	}
	return &CodeCache{
		RoomStore: store,
		ttl:       ttl,
		clock:     clk,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		entries:   make(map[string]cachedCode),
	}
}

func (c *CodeCache) GetRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	code = domain.NormalizeCode(code)

	if roomID, ok := c.lookup(code); ok {
		room, err := c.RoomStore.GetRoom(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if room != nil && room.Code == code {
			return room, nil
		}
		c.evict(code)
	}

	result, err, _ := c.sf.Do(code, func() (interface{}, error) {
		room, err := c.RoomStore.GetRoomByCode(ctx, code)
		if err != nil || room == nil {
			return room, err
		}
		expiresAt := c.clock.Now().Add(c.ttlWithJitter())
		c.mu.Lock()
		c.entries[code] = cachedCode{roomID: room.ID, expiresAt: expiresAt}
		c.mu.Unlock()
		return room, nil
	})
	if err != nil {
		return nil, err
	}
	room, _ := result.(*domain.Room)
	if room == nil {
		return nil, nil
	}
	// callers sharing a flight must not share the maps
	out := room.Clone()
	return &out, nil
}

func (c *CodeCache) DeleteRoom(ctx context.Context, roomID string) error {
	c.mu.Lock()
	for code, entry := range c.entries {
		if entry.roomID == roomID {
			delete(c.entries, code)
		}
	}
	c.mu.Unlock()
	return c.RoomStore.DeleteRoom(ctx, roomID)
}

// Len reports how many codes are cached, expired entries included.
func (c *CodeCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *CodeCache) lookup(code string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.entries[code]
	if !ok || !entry.expiresAt.After(c.clock.Now()) {
		return "", false
	}
	return entry.roomID, true
}

func (c *CodeCache) evict(code string) {
	c.mu.Lock()
	delete(c.entries, code)
	c.mu.Unlock()
}

func (c *CodeCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
