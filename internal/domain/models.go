package domain

import (
	"strconv"
	"strings"
)

// RoomStatus is the phase of a room's state machine.
type RoomStatus string

const (
	StatusWaiting  RoomStatus = "waiting"
	StatusPlaying  RoomStatus = "playing"
	StatusResult   RoomStatus = "result"
	StatusFinished RoomStatus = "finished"
)

// OptionsPerQuestion is the fixed number of options every question carries.
const OptionsPerQuestion = 4

// Question models an MCQ question with exactly four options.
type Question struct {
	Text               string   `json:"text" bson:"text"`
	Options            []string `json:"options" bson:"options"`
	CorrectOptionIndex int      `json:"correctOptionIndex" bson:"correctOptionIndex"`
}

// Participant represents a player joined to a room and their accumulated totals.
type Participant struct {
	ID                string `json:"id" bson:"id"`
	Name              string `json:"name" bson:"name"`
	TotalScore        int    `json:"totalScore" bson:"totalScore"`
	TotalResponseTime int64  `json:"totalResponseTime" bson:"totalResponseTime"`
	QuestionsAnswered int    `json:"questionsAnswered" bson:"questionsAnswered"`
	JoinedAt          int64  `json:"joinedAt" bson:"joinedAt"`
	Connected         bool   `json:"connected" bson:"connected"`
}

// AverageResponseTime returns the mean response time in millis, or ok=false when nothing was answered.
func (p Participant) AverageResponseTime() (float64, bool) {
	if p.QuestionsAnswered <= 0 {
		return 0, false
	}
	return float64(p.TotalResponseTime) / float64(p.QuestionsAnswered), true
}

// Answer is a single participant's submission for one question.
type Answer struct {
	ParticipantID string `json:"participantId" bson:"participantId"`
	OptionIndex   int    `json:"optionIndex" bson:"optionIndex"`
	Timestamp     int64  `json:"timestamp" bson:"timestamp"`
	ResponseTime  int64  `json:"responseTime" bson:"responseTime"`
	Score         int    `json:"score" bson:"score"`
}

// Room is the aggregate root for one game session.
// Answers are keyed by question index (as a string) and then by participant id.
type Room struct {
	ID                     string                       `json:"id" bson:"_id"`
	Code                   string                       `json:"code" bson:"code"`
	Status                 RoomStatus                   `json:"status" bson:"status"`
	HostID                 string                       `json:"hostId" bson:"hostId"`
	CurrentQuestionIndex   int                          `json:"currentQuestionIndex" bson:"currentQuestionIndex"`
	QuestionStartTimestamp *int64                       `json:"questionStartTimestamp" bson:"questionStartTimestamp"`
	FinishedAt             *int64                       `json:"finishedAt" bson:"finishedAt"`
	CreatedAt              int64                        `json:"createdAt" bson:"createdAt"`
	Participants           map[string]Participant       `json:"participants" bson:"participants"`
	Questions              []Question                   `json:"questions" bson:"questions"`
	Answers                map[string]map[string]Answer `json:"answers" bson:"answers"`
	// LastQuestionStart outlives the result phase so the next start can be kept strictly later.
	LastQuestionStart int64 `json:"lastQuestionStart,omitempty" bson:"lastQuestionStart"`
}

// QuestionKey is the key used for a question index inside Room.Answers.
func QuestionKey(index int) string {
	return strconv.Itoa(index)
}

// Answer returns the stored answer of a participant for a question, if any.
func (r Room) Answer(questionIndex int, participantID string) (Answer, bool) {
	byParticipant, ok := r.Answers[QuestionKey(questionIndex)]
	if !ok {
		return Answer{}, false
	}
	answer, ok := byParticipant[participantID]
	return answer, ok
}

// Clone returns a deep copy so callers can't mutate shared state through maps or slices.
func (r Room) Clone() Room {
	out := r
	if r.QuestionStartTimestamp != nil {
		ts := *r.QuestionStartTimestamp
		out.QuestionStartTimestamp = &ts
	}
	if r.FinishedAt != nil {
		ts := *r.FinishedAt
		out.FinishedAt = &ts
	}
	out.Participants = make(map[string]Participant, len(r.Participants))
	for id, p := range r.Participants {
		out.Participants[id] = p
	}
	out.Questions = make([]Question, len(r.Questions))
	for i, q := range r.Questions {
		q.Options = append([]string(nil), q.Options...)
		out.Questions[i] = q
	}
	out.Answers = make(map[string]map[string]Answer, len(r.Answers))
	for key, byParticipant := range r.Answers {
		inner := make(map[string]Answer, len(byParticipant))
		for id, a := range byParticipant {
			inner[id] = a
		}
		out.Answers[key] = inner
	}
	return out
}

// RoomUpdate lists the fields UpdateRoom merges into a stored room. Nil fields are left untouched.
type RoomUpdate struct {
	Status               *RoomStatus
	CurrentQuestionIndex *int
	// QuestionStart is only applied when SetQuestionStart is true; nil clears it.
	SetQuestionStart bool
	QuestionStart    *int64
	// LastQuestionStart records the latest question start; it is never cleared.
	LastQuestionStart *int64
	FinishedAt        *int64
}

// Apply merges the update into room in place.
func (u RoomUpdate) Apply(room *Room) {
	if u.Status != nil {
		room.Status = *u.Status
	}
	if u.CurrentQuestionIndex != nil {
		room.CurrentQuestionIndex = *u.CurrentQuestionIndex
	}
	if u.SetQuestionStart {
		if u.QuestionStart == nil {
			room.QuestionStartTimestamp = nil
		} else {
			ts := *u.QuestionStart
			room.QuestionStartTimestamp = &ts
		}
	}
	if u.LastQuestionStart != nil {
		room.LastQuestionStart = *u.LastQuestionStart
	}
	if u.FinishedAt != nil {
		ts := *u.FinishedAt
		room.FinishedAt = &ts
	}
}

// RankedParticipant is a participant together with its 1-based ranking position.
type RankedParticipant struct {
	Participant
	Position int `json:"position"`
}

// AnswerCount is the live "N of M responded" projection for a question.
type AnswerCount struct {
	Count int `json:"count"`
	Total int `json:"total"`
}

// NormalizeCode upper-cases and trims a user-typed join code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// NormalizeName trims a display name.
func NormalizeName(name string) string {
	return strings.TrimSpace(name)
}
