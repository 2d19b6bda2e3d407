package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/gateway"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10
	outboundBuffer = 64
)

var (
	errConnClosed = errors.New("connection closed")
	errSlowClient = errors.New("client outbound buffer full")
)

// WSConfig bounds what a single socket may send.
type WSConfig struct {
	// RatePerSecond and Burst feed a token bucket per connection.
	RatePerSecond  float64
	Burst          int
	AllowedOrigins []string
}

type WSHandler struct {
	gateway  *gateway.Gateway
	upgrader websocket.Upgrader
	limit    rate.Limit
	burst    int
	log      zerolog.Logger
}

func NewWSHandler(gw *gateway.Gateway, cfg WSConfig, log zerolog.Logger) *WSHandler {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &WSHandler{
		gateway: gw,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(cfg.AllowedOrigins),
		},
		limit: limit,
		burst: burst,
		log:   log,
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type outboundMessage struct {
	Type    domain.EventType `json:"type"`
	Payload any              `json:"payload"`
}

// wsSink queues events for the connection's writer. It never blocks the caller:
// a client that stops reading loses events instead of stalling the room.
type wsSink struct {
	out    chan outboundMessage
	closed chan struct{}
	once   sync.Once
}

func newWSSink() *wsSink {
	return &wsSink{out: make(chan outboundMessage, outboundBuffer), closed: make(chan struct{})}
}

func (s *wsSink) Send(evt domain.Event) error {
	select {
	case <-s.closed:
		return errConnClosed
	default:
	}
	select {
	case s.out <- outboundMessage{Type: evt.Type, Payload: evt.Payload}:
		return nil
	default:
		return errSlowClient
	}
}

func (s *wsSink) close() {
	s.once.Do(func() { close(s.closed) })
}

// ServeWS upgrades the request and runs the socket-event protocol until the client leaves.
// hostId and participantId in the query are the identities presented on connect.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	sink := newWSSink()
	client := h.gateway.Connect(sink, query.Get("hostId"), query.Get("participantId"))
	log := h.log.With().Str("client", client.ID).Logger()
	log.Debug().Msg("socket connected")

	writerDone := make(chan struct{})
	go h.writePump(conn, sink, log, writerDone)

	ctx := context.WithoutCancel(r.Context())
	limiter := rate.NewLimiter(h.limit, h.burst)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Msg("socket read failed")
			}
			break
		}
		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			h.gateway.Fail(client, "", domain.BadRequest("malformed message"))
			continue
		}
		if !limiter.Allow() {
			h.gateway.Fail(client, in.Type, domain.ErrRateLimited)
			continue
		}
		h.gateway.Dispatch(ctx, client, in.Type, in.Payload)
	}

	h.gateway.Disconnect(ctx, client)
	sink.close()
	<-writerDone
	log.Debug().Msg("socket disconnected")
}

// writePump is the only goroutine that writes to conn.
func (h *WSHandler) writePump(conn *websocket.Conn, sink *wsSink, log zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg := <-sink.out:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				log.Debug().Err(err).Msg("socket write failed")
				sink.close()
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				sink.close()
				_ = conn.Close()
				return
			}
		case <-sink.closed:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if allowsAny(allowed) {
		return func(*http.Request) bool { return true }
	}
	set := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		set[origin] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[origin]
		return ok
	}
}

func allowsAny(origins []string) bool {
	if len(origins) == 0 {
		return true
	}
	for _, origin := range origins {
		if origin == "*" {
			return true
		}
	}
	return false
}
