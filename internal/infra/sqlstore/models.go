package sqlstore

import (
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/uptrace/bun"
)

type topicModel struct {
	bun.BaseModel `bun:"table:topics"`

	ID      string `bun:"id,pk"`
	Subject string `bun:"subject,notnull"`
	Name    string `bun:"name,notnull"`
}

// questionModel stores answers as JSON so both dialects share one schema.
type questionModel struct {
	bun.BaseModel `bun:"table:questions"`

	ID         string   `bun:"id,pk"`
	TopicID    string   `bun:"topic_id,notnull"`
	Difficulty int      `bun:"difficulty,notnull"`
	Prompt     string   `bun:"prompt,notnull"`
	Answers    []string `bun:"answers"`
	Mode       string   `bun:"mode,notnull"`
}

type quizModel struct {
	bun.BaseModel `bun:"table:quizzes"`

	ID          string     `bun:"id,pk"`
	Owner       string     `bun:"owner,notnull"`
	Name        string     `bun:"name,notnull"`
	QuestionIDs []string   `bun:"question_ids"`
	Requested   int        `bun:"requested,notnull"`
	State       string     `bun:"state,notnull"`
	Score       *float64   `bun:"score"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	SubmittedAt *time.Time `bun:"submitted_at"`
}

type scoreRecordModel struct {
	bun.BaseModel `bun:"table:score_records"`

	ID           string                  `bun:"id,pk"`
	QuizID       string                  `bun:"quiz_id,notnull"`
	Owner        string                  `bun:"owner,notnull"`
	Seq          int                     `bun:"seq,notnull"`
	TotalCorrect int                     `bun:"total_correct,notnull"`
	Total        int                     `bun:"total,notnull"`
	Score        float64                 `bun:"score,notnull"`
	Results      []domain.QuestionResult `bun:"results"`
	CreatedAt    time.Time               `bun:"created_at,notnull"`
}

type questModel struct {
	bun.BaseModel `bun:"table:quests"`

	ID          string            `bun:"id,pk"`
	Owner       string            `bun:"owner,notnull"`
	Seq         int               `bun:"seq,notnull"`
	Name        string            `bun:"name,notnull"`
	Description string            `bun:"description,notnull"`
	Status      string            `bun:"status,notnull"`
	Reward      int               `bun:"reward,notnull"`
	CreatedAt   time.Time         `bun:"created_at,notnull"`
	ExpiresAt   time.Time         `bun:"expires_at,notnull"`
	CompletedAt *time.Time        `bun:"completed_at"`
	Objectives  []*objectiveModel `bun:"rel:has-many,join:id=quest_id"`
}

type objectiveModel struct {
	bun.BaseModel `bun:"table:quest_objectives"`

	ID        string `bun:"id,pk"`
	QuestID   string `bun:"quest_id,notnull"`
	Position  int    `bun:"position,notnull"`
	TopicID   string `bun:"topic_id,notnull"`
	Metric    string `bun:"metric,notnull"`
	Target    int    `bun:"target,notnull"`
	Progress  int    `bun:"progress,notnull"`
	Completed bool   `bun:"completed,notnull"`
}

// progressModel records which score records were already applied to a quest.
type progressModel struct {
	bun.BaseModel `bun:"table:quest_progress"`

	QuestID  string `bun:"quest_id,pk"`
	RecordID string `bun:"record_id,pk"`
}

type rewardModel struct {
	bun.BaseModel `bun:"table:reward_events"`

	ID          string     `bun:"id,pk"`
	Owner       string     `bun:"owner,notnull"`
	Amount      int        `bun:"amount,notnull"`
	Reason      string     `bun:"reason,notnull,unique"`
	CreatedAt   time.Time  `bun:"created_at,notnull"`
	DeliveredAt *time.Time `bun:"delivered_at"`
}

type assessmentRunModel struct {
	bun.BaseModel `bun:"table:assessment_runs"`

	Owner     string    `bun:"owner,pk"`
	Records   int       `bun:"records,notnull,default:0"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

type assessmentModel struct {
	bun.BaseModel `bun:"table:assessments"`

	Owner        string  `bun:"owner,pk"`
	TopicID      string  `bun:"topic_id,pk"`
	Position     int     `bun:"position,notnull"`
	Probability  float64 `bun:"probability,notnull"`
	Action       int     `bun:"action,notnull"`
	AverageScore float64 `bun:"average_score,notnull"`
}

func (m questionModel) toDomain() domain.Question {
	return domain.Question{
		ID:         m.ID,
		TopicID:    m.TopicID,
		Difficulty: m.Difficulty,
		Prompt:     m.Prompt,
		Answers:    m.Answers,
		Mode:       domain.MatchMode(m.Mode),
	}
}

func fromQuiz(q domain.QuizInstance) *quizModel {
	return &quizModel{
		ID:          q.ID,
		Owner:       q.Owner,
		Name:        q.Name,
		QuestionIDs: q.QuestionIDs,
		Requested:   q.Requested,
		State:       string(q.State),
		Score:       q.Score,
		CreatedAt:   q.CreatedAt.UTC(),
		SubmittedAt: utcPtr(q.SubmittedAt),
	}
}

func (m quizModel) toDomain() domain.QuizInstance {
	return domain.QuizInstance{
		ID:          m.ID,
		Owner:       m.Owner,
		Name:        m.Name,
		QuestionIDs: m.QuestionIDs,
		Requested:   m.Requested,
		State:       domain.QuizState(m.State),
		Score:       m.Score,
		CreatedAt:   m.CreatedAt.UTC(),
		SubmittedAt: utcPtr(m.SubmittedAt),
	}
}

func fromRecord(r domain.ScoreRecord, seq int) *scoreRecordModel {
	return &scoreRecordModel{
		ID:           r.ID,
		QuizID:       r.QuizID,
		Owner:        r.Owner,
		Seq:          seq,
		TotalCorrect: r.TotalCorrect,
		Total:        r.Total,
		Score:        r.Score,
		Results:      r.Results,
		CreatedAt:    r.CreatedAt.UTC(),
	}
}

func (m scoreRecordModel) toDomain() domain.ScoreRecord {
	return domain.ScoreRecord{
		ID:           m.ID,
		QuizID:       m.QuizID,
		Owner:        m.Owner,
		TotalCorrect: m.TotalCorrect,
		Total:        m.Total,
		Score:        m.Score,
		Results:      m.Results,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func fromQuest(q domain.Quest, seq int) (*questModel, []*objectiveModel) {
	objectives := make([]*objectiveModel, len(q.Objectives))
	for i, o := range q.Objectives {
		objectives[i] = &objectiveModel{
			ID:        o.ID,
			QuestID:   q.ID,
			Position:  o.Position,
			TopicID:   o.TopicID,
			Metric:    string(o.Metric),
			Target:    o.Target,
			Progress:  o.Progress,
			Completed: o.Completed,
		}
	}
	return &questModel{
		ID:          q.ID,
		Owner:       q.Owner,
		Seq:         seq,
		Name:        q.Name,
		Description: q.Description,
		Status:      string(q.Status),
		Reward:      q.Reward,
		CreatedAt:   q.CreatedAt.UTC(),
		ExpiresAt:   q.ExpiresAt.UTC(),
		CompletedAt: utcPtr(q.CompletedAt),
	}, objectives
}

func (m questModel) toDomain() domain.Quest {
	q := domain.Quest{
		ID:          m.ID,
		Owner:       m.Owner,
		Name:        m.Name,
		Description: m.Description,
		Status:      domain.QuestStatus(m.Status),
		Reward:      m.Reward,
		Objectives:  make([]domain.QuestObjective, 0, len(m.Objectives)),
		CreatedAt:   m.CreatedAt.UTC(),
		ExpiresAt:   m.ExpiresAt.UTC(),
		CompletedAt: utcPtr(m.CompletedAt),
	}
	for _, o := range m.Objectives {
		q.Objectives = append(q.Objectives, domain.QuestObjective{
			ID:        o.ID,
			QuestID:   o.QuestID,
			Position:  o.Position,
			TopicID:   o.TopicID,
			Metric:    domain.ObjectiveMetric(o.Metric),
			Target:    o.Target,
			Progress:  o.Progress,
			Completed: o.Completed,
		})
	}
	return q
}

func (m rewardModel) toDomain() domain.RewardEvent {
	return domain.RewardEvent{
		ID:          m.ID,
		Owner:       m.Owner,
		Amount:      m.Amount,
		Reason:      m.Reason,
		CreatedAt:   m.CreatedAt.UTC(),
		DeliveredAt: utcPtr(m.DeliveredAt),
	}
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
