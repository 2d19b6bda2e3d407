package app

import (
	"math"
	"sort"

	"quiz-room-service/internal/domain"
)

// Rank orders participants by score desc, then average response time asc
// (no answers sorts last), then join time asc. Participant id is the final key
// so the order is total for a given snapshot.
func Rank(room domain.Room) []domain.RankedParticipant {
	ranked := make([]domain.RankedParticipant, 0, len(room.Participants))
	for _, p := range room.Participants {
		ranked = append(ranked, domain.RankedParticipant{Participant: p})
	}

	sort.Slice(ranked, func(i, j int) bool {
		a, b := ranked[i].Participant, ranked[j].Participant
		if a.TotalScore != b.TotalScore {
			return a.TotalScore > b.TotalScore
		}
		avgA, avgB := averageOrInf(a), averageOrInf(b)
		if avgA != avgB {
			return avgA < avgB
		}
		if a.JoinedAt != b.JoinedAt {
			return a.JoinedAt < b.JoinedAt
		}
		return a.ID < b.ID
	})

	for i := range ranked {
		ranked[i].Position = i + 1
	}
	return ranked
}

func averageOrInf(p domain.Participant) float64 {
	avg, ok := p.AverageResponseTime()
	if !ok {
		return math.Inf(1)
	}
	return avg
}

// CountAnswers projects how many participants answered a question out of everyone in the room.
func CountAnswers(room domain.Room, questionIndex int) domain.AnswerCount {
	return domain.AnswerCount{
		Count: len(room.Answers[domain.QuestionKey(questionIndex)]),
		Total: len(room.Participants),
	}
}
