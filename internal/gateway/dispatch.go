package gateway

import (
	"context"
	"encoding/json"
	"errors"

	"quiz-room-service/internal/domain"
)

// Inbound intent types on the socket-event wire.
const (
	IntentCreateRoom   = "room:create"
	IntentJoinRoom     = "room:join"
	IntentRejoin       = "room:rejoin"
	IntentStartGame    = "game:start"
	IntentNextQuestion = "game:next-question"
	IntentForceResult  = "game:force-result"
	IntentEndGame      = "game:end"
	IntentSubmitAnswer = "answer:submit"
)

type createRoomIntent struct {
	Questions []domain.Question `json:"questions"`
	HostID    string            `json:"hostId"`
}

type joinRoomIntent struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type roomIntent struct {
	RoomID string `json:"roomId"`
	HostID string `json:"hostId"`
}

type submitAnswerIntent struct {
	RoomID        string `json:"roomId"`
	ParticipantID string `json:"participantId"`
	QuestionIndex *int   `json:"questionIndex"`
	OptionIndex   *int   `json:"optionIndex"`
}

// Dispatch decodes one inbound message and runs it. Failures are reported to the
// client as error events; intents without the identity they need are dropped.
func (g *Gateway) Dispatch(ctx context.Context, c *Client, intent string, payload json.RawMessage) {
	if err := g.dispatch(ctx, c, intent, payload); err != nil {
		g.Fail(c, intent, err)
	}
}

func (g *Gateway) dispatch(ctx context.Context, c *Client, intent string, payload json.RawMessage) error {
	switch intent {
	case IntentCreateRoom:
		var in createRoomIntent
		if err := decode(payload, &in); err != nil {
			return err
		}
		_, err := g.CreateRoom(ctx, c, in.Questions, in.HostID)
		return err
	case IntentJoinRoom:
		var in joinRoomIntent
		if err := decode(payload, &in); err != nil {
			return err
		}
		_, err := g.JoinRoom(ctx, c, in.Code, in.Name)
		return err
	case IntentRejoin:
		var in roomIntent
		if err := decode(payload, &in); err != nil {
			return err
		}
		if in.RoomID == "" {
			return domain.BadRequest("roomId is required")
		}
		_, err := g.Rejoin(ctx, c, in.RoomID)
		return err
	case IntentStartGame, IntentNextQuestion, IntentForceResult, IntentEndGame:
		var in roomIntent
		if err := decode(payload, &in); err != nil {
			return err
		}
		var err error
		switch intent {
		case IntentStartGame:
			_, err = g.StartGame(ctx, c, in.RoomID, in.HostID)
		case IntentNextQuestion:
			_, err = g.NextQuestion(ctx, c, in.RoomID, in.HostID)
		case IntentForceResult:
			_, err = g.ForceResult(ctx, c, in.RoomID, in.HostID)
		default:
			_, err = g.EndGame(ctx, c, in.RoomID, in.HostID)
		}
		return err
	case IntentSubmitAnswer:
		var in submitAnswerIntent
		if err := decode(payload, &in); err != nil {
			return err
		}
		if in.OptionIndex == nil {
			return domain.BadRequest("optionIndex is required")
		}
		_, err := g.SubmitAnswer(ctx, c, in.RoomID, in.ParticipantID, in.QuestionIndex, *in.OptionIndex)
		return err
	default:
		return domain.BadRequest("unknown message type " + intent)
	}
}

// Fail translates err into an error event for the client.
func (g *Gateway) Fail(c *Client, intent string, err error) {
	if errors.Is(err, errDropped) {
		return
	}
	if domain.IsDomain(err) {
		g.log.Debug().Err(err).Str("event", intent).Str("client", c.ID).Msg("intent rejected")
	} else {
		g.log.Error().Err(err).Str("event", intent).Str("client", c.ID).Msg("intent failed")
	}
	c.send(domain.Event{Type: domain.EventError, Payload: ErrorPayload(err)})
}

// ErrorPayload is the wire form of err. Non-domain failures never leak their details.
func ErrorPayload(err error) domain.ErrorPayload {
	var domainErr *domain.Error
	if errors.As(err, &domainErr) {
		return domain.ErrorPayload{Message: domainErr.Message, Code: domainErr.Code}
	}
	return domain.ErrorPayload{Message: "service temporarily unavailable", Code: domain.CodeUnavailable}
}

// IsDropped reports whether err means the intent was ignored on purpose.
func IsDropped(err error) bool {
	return errors.Is(err, errDropped)
}

func decode(payload json.RawMessage, v any) error {
	if len(payload) == 0 || string(payload) == "null" {
		return nil
	}
	if err := json.Unmarshal(payload, v); err != nil {
		return domain.BadRequest("malformed payload")
	}
	return nil
}
