package app

import (
	"context"
	"fmt"

	"adaptive-assessment-service/internal/domain"
	"github.com/sirupsen/logrus"
)

// SubmitQuiz grades a submission, stores the score record and advances quest
// progress in one owner transaction. Missing answers are incorrect and answers
// for questions outside the quiz are ignored.
func (e *Engine) SubmitQuiz(ctx context.Context, owner string, sub domain.AnswerSubmission) (domain.ScoreRecord, error) {
	if owner == "" {
		return domain.ScoreRecord{}, domain.InvalidRequest("owner is required")
	}
	quiz, err := e.store.GetQuiz(ctx, sub.QuizID)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	if quiz.Owner != owner {
		return domain.ScoreRecord{}, domain.ErrNotOwner
	}
	if quiz.State != domain.QuizOpen {
		return domain.ScoreRecord{}, domain.ErrAlreadySubmitted
	}

	questions, err := e.inventory.Lookup(ctx, quiz.QuestionIDs)
	if err != nil {
		return domain.ScoreRecord{}, fmt.Errorf("lookup questions: %w", err)
	}

	// Grading may call the judge, so it happens before the transaction opens.
	results := make([]domain.QuestionResult, len(quiz.QuestionIDs))
	correct := 0
	for i, qid := range quiz.QuestionIDs {
		res := domain.QuestionResult{QuestionID: qid, Elapsed: max(sub.Elapsed[qid], 0)}
		q, ok := questions[qid]
		if !ok {
			e.log.WithFields(logrus.Fields{"quiz_id": quiz.ID, "question_id": qid}).
				Warn("question missing from inventory, grading as incorrect")
		} else {
			res.TopicID = q.TopicID
			res.Correct = e.grade(ctx, q, sub.Answers[qid])
		}
		if res.Correct {
			correct++
		}
		results[i] = res
	}

	now := e.now()
	record := domain.ScoreRecord{
		ID:           e.newID(),
		QuizID:       quiz.ID,
		Owner:        owner,
		TotalCorrect: correct,
		Total:        len(results),
		Score:        round4(float64(correct) / float64(len(results))),
		Results:      results,
		CreatedAt:    now,
	}

	var updates []QuestUpdate
	var expired int
	err = e.store.WithinOwner(ctx, owner, func(ctx context.Context, tx Tx) error {
		if err := tx.MarkSubmitted(ctx, quiz.ID, record.Score, now); err != nil {
			return err
		}
		if err := tx.InsertScoreRecord(ctx, record); err != nil {
			return fmt.Errorf("insert score record: %w", err)
		}
		history, err := tx.ScoreHistory(ctx, owner)
		if err != nil {
			return fmt.Errorf("score history: %w", err)
		}
		if !containsRecord(history, record.ID) {
			history = append(history, record)
		}
		updates, expired, err = e.applyProgress(ctx, tx, owner, record, history)
		return err
	})
	if err != nil {
		return domain.ScoreRecord{}, err
	}

	e.metrics.QuizSubmitted(record.Score)
	e.metrics.QuestsExpired(expired)
	e.log.WithFields(logrus.Fields{
		"owner":   owner,
		"quiz_id": quiz.ID,
		"correct": correct,
		"total":   record.Total,
	}).Info("quiz submitted")

	if e.leaderboard != nil {
		if err := e.leaderboard.RecordScore(ctx, owner, correct); err != nil {
			e.log.WithError(err).WithField("owner", owner).Warn("leaderboard update failed")
		}
	}
	e.feed.Publish(owner, FeedEvent{Type: EventScore, Payload: record})
	e.afterProgress(ctx, owner, updates)
	return record, nil
}
