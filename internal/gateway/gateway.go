// Package gateway connects clients to the game engine: it authorizes intents, resolves
// identities, drives the question timers and fans results out over the room channel.
package gateway

import (
	"context"
	"errors"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
	"quiz-room-service/internal/identity"
	"quiz-room-service/internal/metrics"
)

// RoomChannel is the real-time fan-out used for room-wide notifications.
type RoomChannel interface {
	Publish(ctx context.Context, roomID string, evt domain.Event) error
	Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error)
}

// Timeouts arms and cancels the per-room question countdown.
type Timeouts interface {
	Arm(roomID string, questionIndex int)
	Cancel(roomID string)
	Stop()
}

// errDropped marks intents that are ignored without telling the client.
var errDropped = errors.New("intent dropped")

const accessDeniedReason = "join the room with its code first"

type Gateway struct {
	ctx        context.Context
	engine     *app.Engine
	channel    RoomChannel
	identities identity.Resolver
	metrics    *metrics.Server
	timeouts   Timeouts
	clock      clock.Clock
	log        zerolog.Logger
}

type Option func(*Gateway)

// WithClock drives question timeouts from clk.
func WithClock(clk clock.Clock) Option {
	return func(g *Gateway) { g.clock = clk }
}

func WithIdentities(r identity.Resolver) Option {
	return func(g *Gateway) { g.identities = r }
}

func WithMetrics(m *metrics.Server) Option {
	return func(g *Gateway) { g.metrics = m }
}

func WithLogger(log zerolog.Logger) Option {
	return func(g *Gateway) { g.log = log }
}

// New builds a gateway. ctx bounds feed subscriptions and timer-driven transitions.
func New(ctx context.Context, engine *app.Engine, channel RoomChannel, opts ...Option) *Gateway {
	g := &Gateway{
		ctx:        ctx,
		engine:     engine,
		channel:    channel,
		identities: identity.Opaque{},
		clock:      clock.New(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = metrics.New(g.clock)
	}
	g.timeouts = app.NewTimeoutScheduler(g.clock, engine.Rules().QuestionTimeout, g.expire)
	return g
}

// Close stops every pending question timer.
func (g *Gateway) Close() {
	g.timeouts.Stop()
}

func (g *Gateway) Metrics() *metrics.Server {
	return g.metrics
}

// Connect registers a live client with the credentials it presented on connect.
func (g *Gateway) Connect(sink Sink, hostCredential, participantCredential string) *Client {
	g.metrics.ConnectionOpened()
	return &Client{
		ID:                   uuid.NewString(),
		sink:                 sink,
		presentedHost:        g.resolve(hostCredential),
		presentedParticipant: g.resolve(participantCredential),
	}
}

// Detached returns a client for one-shot callers such as REST requests.
// It never subscribes to room feeds and discards direct events.
func (g *Gateway) Detached(hostCredential, participantCredential string) *Client {
	return &Client{
		ID:                   uuid.NewString(),
		sink:                 discard{},
		presentedHost:        g.resolve(hostCredential),
		presentedParticipant: g.resolve(participantCredential),
	}
}

// Resolve maps a presented credential to an id, or "" when it is missing or invalid.
func (g *Gateway) Resolve(credential string) string {
	return g.resolve(credential)
}

// Issue returns the credential clients should present for id.
func (g *Gateway) Issue(id string) (string, error) {
	return g.identities.Issue(id)
}

type CreateResult struct {
	Room      domain.Room
	HostToken string
}

// CreateRoom opens a room hosted by hostCredential, or by the client's connect-time host identity.
func (g *Gateway) CreateRoom(ctx context.Context, c *Client, questions []domain.Question, hostCredential string) (CreateResult, error) {
	hostID := g.resolve(hostCredential)
	if hostID == "" {
		hostID = c.effectiveHost()
	}
	if hostID == "" {
		return CreateResult{}, domain.ErrHostRequired
	}

	room, err := g.engine.CreateRoom(ctx, questions, hostID)
	if err != nil {
		return CreateResult{}, err
	}
	token, err := g.identities.Issue(hostID)
	if err != nil {
		return CreateResult{}, fmt.Errorf("issue host token: %w", err)
	}
	g.attach(c, room.ID, RoleHost, hostID)

	c.send(domain.Event{Type: domain.EventRoomCreated, Payload: domain.RoomCreatedPayload{RoomID: room.ID, Code: room.Code, HostToken: token}})
	c.send(domain.RoomState(room))
	g.log.Info().Str("room_id", room.ID).Str("code", room.Code).Msg("room created")
	return CreateResult{Room: room, HostToken: token}, nil
}

type JoinResult struct {
	Room        domain.Room
	Participant domain.Participant
	Token       string
}

func (g *Gateway) JoinRoom(ctx context.Context, c *Client, code, name string) (JoinResult, error) {
	room, participant, err := g.engine.JoinRoom(ctx, code, name)
	if err != nil {
		return JoinResult{}, err
	}
	token, err := g.identities.Issue(participant.ID)
	if err != nil {
		return JoinResult{}, fmt.Errorf("issue participant token: %w", err)
	}
	g.attach(c, room.ID, RoleParticipant, participant.ID)

	c.send(domain.Event{Type: domain.EventRoomJoined, Payload: domain.RoomJoinedPayload{ParticipantID: participant.ID, RoomID: room.ID, Token: token}})
	c.send(domain.RoomState(room))
	g.publish(room.ID,
		domain.Event{Type: domain.EventParticipantJoined, Payload: participant, Exclude: c.ID},
		g.ranking(room),
	)
	return JoinResult{Room: room, Participant: participant, Token: token}, nil
}

// Rejoin reattaches a reconnecting client using the identities it presented on connect.
func (g *Gateway) Rejoin(ctx context.Context, c *Client, roomID string) (domain.Room, error) {
	room, err := g.engine.GetRoom(ctx, roomID)
	if errors.Is(err, domain.ErrRoomNotFound) {
		c.send(domain.Event{Type: domain.EventAccessDenied, Payload: domain.AccessDeniedPayload{Reason: domain.ErrRoomNotFound.Message}})
		return domain.Room{}, errDropped
	}
	if err != nil {
		return domain.Room{}, err
	}

	if host := c.effectiveHost(); host != "" && host == room.HostID {
		g.attach(c, room.ID, RoleHost, host)
		c.send(domain.RoomState(room))
		return room, nil
	}

	participantID := c.effectiveParticipant()
	if _, ok := room.Participants[participantID]; participantID == "" || !ok {
		c.send(domain.Event{Type: domain.EventAccessDenied, Payload: domain.AccessDeniedPayload{Reason: accessDeniedReason}})
		return domain.Room{}, errDropped
	}

	updated, err := g.engine.SetConnected(ctx, room.ID, participantID, true)
	if err != nil {
		return domain.Room{}, err
	}
	g.attach(c, room.ID, RoleParticipant, participantID)
	c.send(domain.RoomState(updated))
	g.publish(room.ID,
		domain.Event{Type: domain.EventParticipantReconnected, Payload: updated.Participants[participantID], Exclude: c.ID},
		g.ranking(updated),
	)
	return updated, nil
}

func (g *Gateway) StartGame(ctx context.Context, c *Client, roomID, hostCredential string) (domain.Room, error) {
	roomID, hostID, err := g.hostAction(c, roomID, hostCredential)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := g.engine.StartGame(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	g.publish(room.ID,
		domain.StatusChanged(room),
		domain.RoomState(room),
		g.answerCount(room),
		g.ranking(room),
	)
	g.timeouts.Arm(room.ID, room.CurrentQuestionIndex)
	return room, nil
}

// SubmitAnswer scores an answer. A nil questionIndex means the live question.
func (g *Gateway) SubmitAnswer(ctx context.Context, c *Client, roomID, participantCredential string, questionIndex *int, optionIndex int) (app.AnswerResult, error) {
	if session := c.room(); session != "" {
		roomID = session
	}
	participantID := c.effectiveParticipant()
	if participantID == "" {
		participantID = g.resolve(participantCredential)
	}
	if roomID == "" || participantID == "" {
		return app.AnswerResult{}, errDropped
	}

	index := 0
	if questionIndex != nil {
		index = *questionIndex
	} else {
		room, err := g.engine.GetRoom(ctx, roomID)
		if err != nil {
			return app.AnswerResult{}, err
		}
		index = room.CurrentQuestionIndex
	}

	result, err := g.engine.SubmitAnswer(ctx, roomID, participantID, index, optionIndex)
	if err != nil {
		return app.AnswerResult{}, err
	}
	g.metrics.AnswerProcessed()

	c.send(domain.Event{Type: domain.EventAnswerResult, Payload: domain.AnswerResultPayload{
		Correct:      result.Correct,
		Score:        result.Score,
		CorrectIndex: result.CorrectIndex,
	}})
	g.publish(roomID,
		domain.Event{Type: domain.EventAnswerCount, Payload: result.Count},
		g.ranking(result.Room),
	)

	if result.ShouldClose {
		g.timeouts.Cancel(roomID)
		closed, ok, err := g.engine.CloseQuestion(ctx, roomID, index)
		if err != nil {
			g.log.Error().Err(err).Str("room_id", roomID).Msg("auto-close failed")
		} else if ok {
			g.publishResult(closed)
		}
	}
	return result, nil
}

func (g *Gateway) NextQuestion(ctx context.Context, c *Client, roomID, hostCredential string) (domain.Room, error) {
	roomID, hostID, err := g.hostAction(c, roomID, hostCredential)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := g.engine.NextQuestion(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	g.publish(room.ID,
		domain.StatusChanged(room),
		domain.RoomState(room),
		g.answerCount(room),
		g.ranking(room),
	)
	if room.Status == domain.StatusPlaying {
		g.timeouts.Arm(room.ID, room.CurrentQuestionIndex)
	} else {
		g.timeouts.Cancel(room.ID)
	}
	return room, nil
}

func (g *Gateway) ForceResult(ctx context.Context, c *Client, roomID, hostCredential string) (domain.Room, error) {
	roomID, hostID, err := g.hostAction(c, roomID, hostCredential)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := g.engine.ForceResult(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	g.timeouts.Cancel(room.ID)
	g.publishResult(room)
	return room, nil
}

func (g *Gateway) EndGame(ctx context.Context, c *Client, roomID, hostCredential string) (domain.Room, error) {
	roomID, hostID, err := g.hostAction(c, roomID, hostCredential)
	if err != nil {
		return domain.Room{}, err
	}
	room, err := g.engine.EndGame(ctx, roomID, hostID)
	if err != nil {
		return domain.Room{}, err
	}
	g.timeouts.Cancel(room.ID)
	g.publishResult(room)
	return room, nil
}

// Disconnect releases the client. Hosts leaving is advisory; participants keep their scores.
func (g *Gateway) Disconnect(ctx context.Context, c *Client) {
	g.metrics.ConnectionClosed()
	session, unsubscribe := c.detach()
	if unsubscribe != nil {
		unsubscribe()
	}
	if session.RoomID == "" {
		return
	}

	if session.Role == RoleHost {
		g.publish(session.RoomID, domain.Event{Type: domain.EventHostDisconnected, Payload: struct{}{}})
		return
	}
	participantID := session.ParticipantID
	if participantID == "" {
		participantID = c.presentedParticipant
	}
	if participantID == "" {
		return
	}
	room, err := g.engine.SetConnected(ctx, session.RoomID, participantID, false)
	if err != nil {
		g.log.Debug().Err(err).Str("room_id", session.RoomID).Msg("disconnect of unknown participant")
		return
	}
	g.publish(session.RoomID,
		domain.Event{Type: domain.EventParticipantLeft, Payload: domain.ParticipantLeftPayload{ParticipantID: participantID}},
		g.ranking(room),
	)
}

// Ranking is the leaderboard of the room's current snapshot.
func (g *Gateway) Ranking(ctx context.Context, roomID string) ([]domain.RankedParticipant, error) {
	room, err := g.engine.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}
	return g.engine.Ranking(room), nil
}

func (g *Gateway) Room(ctx context.Context, roomID string) (domain.Room, error) {
	return g.engine.GetRoom(ctx, roomID)
}

// Subscribe opens a raw room feed for observers that do not take part in the game.
func (g *Gateway) Subscribe(ctx context.Context, roomID string) (<-chan domain.Event, func(), error) {
	if _, err := g.engine.GetRoom(ctx, roomID); err != nil {
		return nil, nil, err
	}
	return g.channel.Subscribe(ctx, roomID)
}

// expire is the timer callback. It only closes the question it was armed for;
// stale fires are expected and ignored.
func (g *Gateway) expire(roomID string, questionIndex int) {
	room, expired, err := g.engine.CloseQuestion(g.ctx, roomID, questionIndex)
	if err != nil {
		g.log.Debug().Err(err).Str("room_id", roomID).Msg("question timeout ignored")
		return
	}
	if !expired {
		g.log.Debug().Str("room_id", roomID).Int("question", questionIndex).Msg("stale question timeout")
		return
	}
	g.log.Debug().Str("room_id", roomID).Int("question", room.CurrentQuestionIndex).Msg("question timed out")
	g.publishResult(room)
}

// hostAction resolves the room from the session first, then the intent, and the host
// from the session, the connect-time identity and finally the intent.
func (g *Gateway) hostAction(c *Client, roomID, hostCredential string) (string, string, error) {
	if session := c.room(); session != "" {
		roomID = session
	}
	hostID := c.effectiveHost()
	if hostID == "" {
		hostID = g.resolve(hostCredential)
	}
	if roomID == "" || hostID == "" {
		return "", "", errDropped
	}
	return roomID, hostID, nil
}

func (g *Gateway) attach(c *Client, roomID string, role Role, id string) {
	var unsubscribe func()
	if _, detached := c.sink.(discard); !detached {
		events, cancel, err := g.channel.Subscribe(g.ctx, roomID)
		if err != nil {
			g.log.Error().Err(err).Str("room_id", roomID).Msg("room feed subscribe failed")
		} else {
			unsubscribe = cancel
			go pump(c, events)
		}
	}
	if previous := c.attach(roomID, role, id, unsubscribe); previous != nil {
		previous()
	}
}

func pump(c *Client, events <-chan domain.Event) {
	for evt := range events {
		if evt.Exclude != "" && evt.Exclude == c.ID {
			continue
		}
		c.send(domain.Event{Type: evt.Type, Payload: evt.Payload})
	}
}

func (g *Gateway) publishResult(room domain.Room) {
	g.publish(room.ID,
		domain.StatusChanged(room),
		domain.RoomState(room),
		g.ranking(room),
	)
}

func (g *Gateway) publish(roomID string, events ...domain.Event) {
	for _, evt := range events {
		if err := g.channel.Publish(g.ctx, roomID, evt); err != nil {
			g.log.Error().Err(err).Str("room_id", roomID).Str("event", string(evt.Type)).Msg("publish failed")
		}
	}
}

func (g *Gateway) ranking(room domain.Room) domain.Event {
	return domain.Event{Type: domain.EventRankingUpdate, Payload: g.engine.Ranking(room)}
}

func (g *Gateway) answerCount(room domain.Room) domain.Event {
	return domain.Event{Type: domain.EventAnswerCount, Payload: g.engine.AnswerCount(room, room.CurrentQuestionIndex)}
}

func (g *Gateway) resolve(credential string) string {
	if credential == "" {
		return ""
	}
	id, err := g.identities.Resolve(credential)
	if err != nil {
		g.log.Debug().Err(err).Msg("rejected identity")
		return ""
	}
	return id
}

type discard struct{}

func (discard) Send(domain.Event) error { return nil }
