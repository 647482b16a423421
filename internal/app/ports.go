package app

import (
	"context"
	"time"

	"adaptive-assessment-service/internal/domain"
)

// QuestionInventory is read-only access to topics and questions.
type QuestionInventory interface {
	// FindQuestions returns every question on one of topicIDs whose difficulty is in
	// difficulties (all difficulties when empty), ordered by question id.
	FindQuestions(ctx context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error)
	// Lookup returns the questions with the given ids. Unknown ids are absent from the map.
	Lookup(ctx context.Context, ids []string) (map[string]domain.Question, error)
}

// TopicFeatures is the judge input for one topic.
type TopicFeatures struct {
	TopicID           string    `json:"topicId"`
	AverageScore      float64   `json:"averageScore"`
	RecentTopicScores []float64 `json:"recentTopicScores"`
	RecentQuizScores  []float64 `json:"recentQuizScores"`
	Minutes           float64   `json:"minutes"`
	Attempts          int       `json:"attempts"`
}

// Judgment is the judge output for one topic.
type Judgment struct {
	Probability float64
	Action      domain.ActionLevel
}

// Judge is the inference collaborator. Any error is treated as unavailable.
type Judge interface {
	JudgeWeakness(ctx context.Context, features TopicFeatures) (Judgment, error)
	JudgeFreeText(ctx context.Context, question domain.Question, answer string) (bool, error)
}

// Ledger is the currency ledger. Issue may be called more than once for the same event id.
type Ledger interface {
	Issue(ctx context.Context, event domain.RewardEvent) error
}

// Leaderboard aggregates correct answers per owner.
type Leaderboard interface {
	RecordScore(ctx context.Context, owner string, points int) error
	Top(ctx context.Context, limit int) (domain.Leaderboard, error)
}

// Store is durable engine state.
type Store interface {
	// WithinOwner runs fn in one transaction. Calls for the same owner are serialized.
	// Nothing fn wrote is visible if it returns an error.
	WithinOwner(ctx context.Context, owner string, fn func(ctx context.Context, tx Tx) error) error

	CreateQuiz(ctx context.Context, quiz domain.QuizInstance) error
	// GetQuiz returns domain.ErrQuizNotFound for unknown ids.
	GetQuiz(ctx context.Context, quizID string) (domain.QuizInstance, error)
	// ScoreHistory returns the owner's records oldest first.
	ScoreHistory(ctx context.Context, owner string) ([]domain.ScoreRecord, error)
	// ListQuests returns quests newest first; an empty status means every status.
	ListQuests(ctx context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error)
	// LatestAssessment reports ok=false when the owner was never analyzed.
	LatestAssessment(ctx context.Context, owner string) (run domain.AssessmentRun, ok bool, err error)
	SaveAssessment(ctx context.Context, owner string, run domain.AssessmentRun) error

	// PendingRewards returns undelivered reward events oldest first.
	PendingRewards(ctx context.Context, limit int) ([]domain.RewardEvent, error)
	MarkRewardDelivered(ctx context.Context, eventID string, at time.Time) error
}

// Tx is the write surface inside WithinOwner.
type Tx interface {
	// MarkSubmitted moves an OPEN quiz to SUBMITTED, or returns domain.ErrAlreadySubmitted.
	MarkSubmitted(ctx context.Context, quizID string, score float64, at time.Time) error
	InsertScoreRecord(ctx context.Context, record domain.ScoreRecord) error
	ScoreHistory(ctx context.Context, owner string) ([]domain.ScoreRecord, error)
	ListQuests(ctx context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error)
	InsertQuest(ctx context.Context, quest domain.Quest) error
	// UpdateObjective never lowers stored progress.
	UpdateObjective(ctx context.Context, objective domain.QuestObjective) error
	// CompleteQuest is a conditional ACTIVE -> COMPLETED transition; false when the quest was not ACTIVE.
	CompleteQuest(ctx context.Context, questID string, at time.Time) (bool, error)
	// ExpireQuest is a conditional ACTIVE -> EXPIRED transition.
	ExpireQuest(ctx context.Context, questID string) (bool, error)
	// MarkProgressApplied records (quest, record); false when it was already applied.
	MarkProgressApplied(ctx context.Context, questID, recordID string) (bool, error)
	// EnqueueReward stores a reward in the outbox. At most one reward exists per quest.
	EnqueueReward(ctx context.Context, event domain.RewardEvent) error
}

// Recorder receives engine counters.
type Recorder interface {
	QuizGenerated(short bool)
	QuizSubmitted(score float64)
	GradingFallback(mode domain.MatchMode)
	JudgmentUnavailable()
	QuestsGenerated(n int)
	QuestCompleted()
	QuestsExpired(n int)
	RewardDelivered()
	RewardFailed()
}

type nopRecorder struct{}

func (nopRecorder) QuizGenerated(bool) {}
func (nopRecorder) QuizSubmitted(float64) {}
func (nopRecorder) GradingFallback(domain.MatchMode) {}
func (nopRecorder) JudgmentUnavailable() {}
func (nopRecorder) QuestsGenerated(int) {}
func (nopRecorder) QuestCompleted() {}
func (nopRecorder) QuestsExpired(int) {}
func (nopRecorder) RewardDelivered() {}
func (nopRecorder) RewardFailed() {}
