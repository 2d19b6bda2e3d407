package mongo

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"quiz-room-service/internal/app"
	"quiz-room-service/internal/domain"
)

const roomsCollection = "rooms"

// RoomStore keeps one document per room. Every write is a single-document
// update, which MongoDB applies atomically; the answer insert is guarded by an
// $exists filter so only the first submission matches.
type RoomStore struct {
	collection *mongo.Collection
}

func NewRoomStore(db *mongo.Database) *RoomStore {
	return &RoomStore{collection: db.Collection(roomsCollection)}
}

// EnsureIndexes creates the unique join code index and the status index used by retention.
func (s *RoomStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "code", Value: 1}}, Options: options.Index().SetUnique(true).SetName("code_unique")},
		{Keys: bson.D{{Key: "status", Value: 1}}, Options: options.Index().SetName("status")},
	})
	return err
}

func (s *RoomStore) CreateRoom(ctx context.Context, room domain.Room) error {
	doc := room.Clone()
	doc.Code = domain.NormalizeCode(room.Code)
	_, err := s.collection.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return app.ErrCodeTaken
	}
	if err != nil {
		return fmt.Errorf("insert room: %w", err)
	}
	return nil
}

func (s *RoomStore) GetRoom(ctx context.Context, roomID string) (*domain.Room, error) {
	return s.findOne(ctx, bson.M{"_id": roomID})
}

func (s *RoomStore) GetRoomByCode(ctx context.Context, code string) (*domain.Room, error) {
	return s.findOne(ctx, bson.M{"code": domain.NormalizeCode(code)})
}

func (s *RoomStore) UpdateRoom(ctx context.Context, roomID string, update domain.RoomUpdate) error {
	set := bson.M{}
	if update.Status != nil {
		set["status"] = *update.Status
	}
	if update.CurrentQuestionIndex != nil {
		set["currentQuestionIndex"] = *update.CurrentQuestionIndex
	}
	if update.SetQuestionStart {
		set["questionStartTimestamp"] = update.QuestionStart
	}
	if update.LastQuestionStart != nil {
		set["lastQuestionStart"] = *update.LastQuestionStart
	}
	if update.FinishedAt != nil {
		set["finishedAt"] = *update.FinishedAt
	}
	if len(set) == 0 {
		return nil
	}
	_, err := s.collection.UpdateOne(ctx, bson.M{"_id": roomID}, bson.M{"$set": set})
	return err
}

func (s *RoomStore) AddParticipant(ctx context.Context, roomID string, participant domain.Participant) error {
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": roomID},
		bson.M{"$set": bson.M{participantPath(participant.ID): participant}})
	return err
}

func (s *RoomStore) UpdateParticipantConnection(ctx context.Context, roomID, participantID string, connected bool) error {
	path := participantPath(participantID)
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": roomID, path: bson.M{"$exists": true}},
		bson.M{"$set": bson.M{path + ".connected": connected}})
	return err
}

func (s *RoomStore) AddAnswer(ctx context.Context, roomID string, questionIndex int, answer domain.Answer) error {
	path := answerPath(questionIndex, answer.ParticipantID)
	res, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": roomID, path: bson.M{"$exists": false}},
		bson.M{"$set": bson.M{path: answer}})
	if err != nil {
		return fmt.Errorf("insert answer: %w", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	n, err := s.collection.CountDocuments(ctx, bson.M{"_id": roomID})
	if err != nil {
		return err
	}
	if n > 0 {
		return domain.ErrDuplicateAnswer
	}
	return nil
}

func (s *RoomStore) UpdateParticipantScore(ctx context.Context, roomID, participantID string, scoreIncrement int, responseTimeIncrement int64) error {
	path := participantPath(participantID)
	_, err := s.collection.UpdateOne(ctx,
		bson.M{"_id": roomID, path: bson.M{"$exists": true}},
		bson.M{"$inc": bson.M{
			path + ".totalScore":        scoreIncrement,
			path + ".totalResponseTime": responseTimeIncrement,
			path + ".questionsAnswered": 1,
		}})
	return err
}

func (s *RoomStore) DeleteRoom(ctx context.Context, roomID string) error {
	_, err := s.collection.DeleteOne(ctx, bson.M{"_id": roomID})
	return err
}

func (s *RoomStore) ListRooms(ctx context.Context) ([]domain.Room, error) {
	cursor, err := s.collection.Find(ctx, bson.M{})
	if err != nil {
		return nil, err
	}
	var rooms []domain.Room
	if err := cursor.All(ctx, &rooms); err != nil {
		return nil, err
	}
	for i := range rooms {
		normalize(&rooms[i])
	}
	return rooms, nil
}

func (s *RoomStore) findOne(ctx context.Context, filter bson.M) (*domain.Room, error) {
	var room domain.Room
	err := s.collection.FindOne(ctx, filter).Decode(&room)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	normalize(&room)
	return &room, nil
}

// normalize fills maps a document may have stored as null.
func normalize(room *domain.Room) {
	if room.Participants == nil {
		room.Participants = make(map[string]domain.Participant)
	}
	if room.Answers == nil {
		room.Answers = make(map[string]map[string]domain.Answer)
	}
}

func participantPath(participantID string) string {
	return "participants." + participantID
}

func answerPath(questionIndex int, participantID string) string {
	return "answers." + domain.QuestionKey(questionIndex) + "." + participantID
}
