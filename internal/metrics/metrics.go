// Package metrics keeps the handful of load-test counters the server exposes at /metrics.
package metrics

import (
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
)

const historySize = 60

// Server tracks connections and answer throughput for one process.
type Server struct {
	clock   clock.Clock
	started time.Time

	connections atomic.Int64
	answers     atomic.Int64

	mu         sync.Mutex
	window     int64
	windowFrom time.Time
	history    []int64
}

// Snapshot is the JSON document served at /metrics.
type Snapshot struct {
	ActiveConnections          int64  `json:"activeConnections"`
	AnswersProcessedTotal      int64  `json:"answersProcessedTotal"`
	AnswersProcessedLastSecond int64  `json:"answersProcessedLastSecond"`
	Memory                     Memory `json:"memory"`
	UptimeSeconds              int64  `json:"uptimeSeconds"`
	Timestamp                  int64  `json:"timestamp"`
}

type Memory struct {
	HeapUsedMB uint64 `json:"heapUsedMB"`
	SysMB      uint64 `json:"sysMB"`
	Goroutines int    `json:"goroutines"`
}

func New(clk clock.Clock) *Server {
	if clk == nil {
		clk = clock.New()
	}
	now := clk.Now()
	return &Server{clock: clk, started: now, windowFrom: now}
}

func (s *Server) ConnectionOpened() {
	s.connections.Add(1)
}

// ConnectionClosed never lets the gauge go negative.
func (s *Server) ConnectionClosed() {
	for {
		cur := s.connections.Load()
		if cur <= 0 {
			return
		}
		if s.connections.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

func (s *Server) AnswerProcessed() {
	s.answers.Add(1)
	s.mu.Lock()
	s.rollLocked()
	s.window++
	s.mu.Unlock()
}

// Snapshot reports the counters; the per-second figure is the last completed second.
func (s *Server) Snapshot() Snapshot {
	s.mu.Lock()
	s.rollLocked()
	var lastSecond int64
	if n := len(s.history); n > 0 {
		lastSecond = s.history[n-1]
	}
	s.mu.Unlock()

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	now := s.clock.Now()
	return Snapshot{
		ActiveConnections:          s.connections.Load(),
		AnswersProcessedTotal:      s.answers.Load(),
		AnswersProcessedLastSecond: lastSecond,
		Memory: Memory{
			HeapUsedMB: mem.HeapAlloc / 1024 / 1024,
			SysMB:      mem.Sys / 1024 / 1024,
			Goroutines: runtime.NumGoroutine(),
		},
		UptimeSeconds: int64(now.Sub(s.started) / time.Second),
		Timestamp:     now.UnixMilli(),
	}
}

func (s *Server) rollLocked() {
	now := s.clock.Now()
	if now.Sub(s.windowFrom) < time.Second {
		return
	}
	s.history = append(s.history, s.window)
	if len(s.history) > historySize {
		s.history = s.history[1:]
	}
	s.window = 0
	s.windowFrom = now
}
