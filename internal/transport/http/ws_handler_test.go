package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/gateway"
	"quiz-room-service/internal/infra/memory"
)

func newTestRouter(t *testing.T, cfg RouterConfig) (*gin.Engine, *gateway.Gateway) {
	t.Helper()
	engine := app.NewEngine(memory.NewRoomStore())
	ctx, cancel := context.WithCancel(context.Background())
	gw := gateway.New(ctx, engine, memory.NewRoomFeed())
	t.Cleanup(func() {
		gw.Close()
		cancel()
	})
	return NewRouter(gw, cfg, zerolog.Nop()), gw
}

func sampleQuestions() []domain.Question {
	return []domain.Question{
		{Text: "What is 2 + 2?", Options: []string{"3", "4", "5", "22"}, CorrectOptionIndex: 1},
	}
}

type wireMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func dial(t *testing.T, server *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws" + query
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

// readUntil skips messages until one of type expect arrives.
func readUntil(t *testing.T, conn *websocket.Conn, expect string) json.RawMessage {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	for {
		var msg wireMessage
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read waiting for %s: %v", expect, err)
		}
		if msg.Type == expect {
			return msg.Payload
		}
	}
}

func decodeInto[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode %s: %v", raw, err)
	}
	return out
}

func TestWebSocketGameFlow(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	server := httptest.NewServer(router)
	defer server.Close()

	host := dial(t, server, "?hostId=host-1")
	send(t, host, gateway.IntentCreateRoom, map[string]any{"questions": sampleQuestions()})
	created := decodeInto[domain.RoomCreatedPayload](t, readUntil(t, host, string(domain.EventRoomCreated)))
	if len(created.Code) != app.CodeLength {
		t.Fatalf("expected a %d character code, got %q", app.CodeLength, created.Code)
	}

	player := dial(t, server, "")
	send(t, player, gateway.IntentJoinRoom, map[string]string{"code": strings.ToLower(created.Code), "name": "Alice"})
	joined := decodeInto[domain.RoomJoinedPayload](t, readUntil(t, player, string(domain.EventRoomJoined)))
	if joined.RoomID != created.RoomID {
		t.Fatalf("joined room %s, want %s", joined.RoomID, created.RoomID)
	}
	readUntil(t, host, string(domain.EventParticipantJoined))

	send(t, host, gateway.IntentStartGame, nil)
	status := decodeInto[domain.StatusChangedPayload](t, readUntil(t, player, string(domain.EventStatusChanged)))
	if status.Status != domain.StatusPlaying || status.Timestamp == nil {
		t.Fatalf("expected playing with a timestamp, got %+v", status)
	}

	send(t, player, gateway.IntentSubmitAnswer, map[string]int{"optionIndex": 1})
	result := decodeInto[domain.AnswerResultPayload](t, readUntil(t, player, string(domain.EventAnswerResult)))
	if !result.Correct || result.CorrectIndex != 1 || result.Score <= 0 {
		t.Fatalf("unexpected answer result %+v", result)
	}

	// the only participant answered, so the question closes on its own
	for {
		status = decodeInto[domain.StatusChangedPayload](t, readUntil(t, host, string(domain.EventStatusChanged)))
		if status.Status == domain.StatusResult {
			break
		}
	}

	ranking := decodeInto[[]domain.RankedParticipant](t, readUntil(t, host, string(domain.EventRankingUpdate)))
	if len(ranking) != 1 || ranking[0].Name != "Alice" || ranking[0].Position != 1 {
		t.Fatalf("unexpected ranking %+v", ranking)
	}
}

func TestWebSocketErrorsAndRateLimit(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{WS: WSConfig{RatePerSecond: 0.001, Burst: 2}})
	server := httptest.NewServer(router)
	defer server.Close()

	conn := dial(t, server, "")
	send(t, conn, "room:explode", nil)
	first := decodeInto[domain.ErrorPayload](t, readUntil(t, conn, string(domain.EventError)))
	if first.Code != domain.CodeBadRequest {
		t.Fatalf("expected BadRequest, got %+v", first)
	}

	send(t, conn, gateway.IntentJoinRoom, map[string]string{"code": "ZZZZZZ", "name": "Bob"})
	second := decodeInto[domain.ErrorPayload](t, readUntil(t, conn, string(domain.EventError)))
	if second.Code != domain.CodeRoomNotFound {
		t.Fatalf("expected RoomNotFound, got %+v", second)
	}

	send(t, conn, gateway.IntentJoinRoom, map[string]string{"code": "ZZZZZZ", "name": "Bob"})
	third := decodeInto[domain.ErrorPayload](t, readUntil(t, conn, string(domain.EventError)))
	if third.Code != domain.CodeRateLimited {
		t.Fatalf("expected RateLimited, got %+v", third)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("write: %v", err)
	}
	malformed := decodeInto[domain.ErrorPayload](t, readUntil(t, conn, string(domain.EventError)))
	if malformed.Code != domain.CodeBadRequest {
		t.Fatalf("expected BadRequest for malformed frame, got %+v", malformed)
	}
}

func TestWebSocketRejoinAfterReconnect(t *testing.T) {
	router, _ := newTestRouter(t, RouterConfig{})
	server := httptest.NewServer(router)
	defer server.Close()

	host := dial(t, server, "?hostId=host-1")
	send(t, host, gateway.IntentCreateRoom, map[string]any{"questions": sampleQuestions()})
	created := decodeInto[domain.RoomCreatedPayload](t, readUntil(t, host, string(domain.EventRoomCreated)))

	player := dial(t, server, "")
	send(t, player, gateway.IntentJoinRoom, map[string]string{"code": created.Code, "name": "Alice"})
	joined := decodeInto[domain.RoomJoinedPayload](t, readUntil(t, player, string(domain.EventRoomJoined)))
	_ = player.Close()

	left := decodeInto[domain.ParticipantLeftPayload](t, readUntil(t, host, string(domain.EventParticipantLeft)))
	if left.ParticipantID != joined.ParticipantID {
		t.Fatalf("disconnect reported %s, want %s", left.ParticipantID, joined.ParticipantID)
	}

	again := dial(t, server, "?participantId="+joined.ParticipantID)
	send(t, again, gateway.IntentRejoin, map[string]string{"roomId": created.RoomID})
	room := decodeInto[domain.Room](t, readUntil(t, again, string(domain.EventRoomState)))
	if p, ok := room.Participants[joined.ParticipantID]; !ok || !p.Connected || len(room.Participants) != 1 {
		t.Fatalf("unexpected participants after rejoin: %+v", room.Participants)
	}
	readUntil(t, host, string(domain.EventParticipantReconnected))

	stranger := dial(t, server, "?participantId=nobody")
	send(t, stranger, gateway.IntentRejoin, map[string]string{"roomId": created.RoomID})
	readUntil(t, stranger, string(domain.EventAccessDenied))
}
