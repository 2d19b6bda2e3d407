package domain

// EventType names an outbound notification on the wire.
type EventType string

const (
	EventRoomCreated            EventType = "room:created"
	EventRoomJoined             EventType = "room:joined"
	EventRoomState              EventType = "room:state"
	EventParticipantJoined      EventType = "room:participant-joined"
	EventParticipantLeft        EventType = "room:participant-disconnected"
	EventParticipantReconnected EventType = "room:participant-reconnected"
	EventHostDisconnected       EventType = "room:host-disconnected"
	EventAccessDenied           EventType = "room:access-denied"
	EventStatusChanged          EventType = "game:status-changed"
	EventAnswerCount            EventType = "game:answer-count"
	EventAnswerResult           EventType = "answer:result"
	EventRankingUpdate          EventType = "ranking:update"
	EventError                  EventType = "error"
)

// Event is a notification addressed to a room (or a single client).
// Exclude names a client id that must not receive a room-wide event.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
	Exclude string    `json:"-"`
}

type RoomCreatedPayload struct {
	RoomID    string `json:"roomId"`
	Code      string `json:"code"`
	HostToken string `json:"hostToken,omitempty"`
}

type RoomJoinedPayload struct {
	ParticipantID string `json:"participantId"`
	RoomID        string `json:"roomId"`
	Token         string `json:"token,omitempty"`
}

type StatusChangedPayload struct {
	Status        RoomStatus `json:"status"`
	QuestionIndex int        `json:"questionIndex"`
	Timestamp     *int64     `json:"timestamp"`
}

type AnswerResultPayload struct {
	Correct      bool `json:"correct"`
	Score        int  `json:"score"`
	CorrectIndex int  `json:"correctIndex"`
}

type ParticipantLeftPayload struct {
	ParticipantID string `json:"participantId"`
}

type AccessDeniedPayload struct {
	Reason string `json:"reason"`
}

type ErrorPayload struct {
	Message string `json:"message"`
	Code    Code   `json:"code"`
}

// StatusChanged builds the status notification for a room snapshot.
func StatusChanged(room Room) Event {
	return Event{Type: EventStatusChanged, Payload: StatusChangedPayload{
		Status:        room.Status,
		QuestionIndex: room.CurrentQuestionIndex,
		Timestamp:     room.QuestionStartTimestamp,
	}}
}

// RoomState wraps a full room snapshot.
func RoomState(room Room) Event {
	return Event{Type: EventRoomState, Payload: room}
}
