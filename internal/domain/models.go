package domain

import "time"

// Topic is a curriculum subdivision questions are tagged with.
type Topic struct {
	ID      string `json:"id" yaml:"id"`
	Subject string `json:"subject" yaml:"subject"`
	Name    string `json:"name" yaml:"name"`
}

// MatchMode selects how a submitted answer is compared to the canonical answers.
type MatchMode string

const (
	MatchExact    MatchMode = "exact"
	MatchNumeric  MatchMode = "numeric"
	MatchFreeText MatchMode = "free_text"
)

// Question is read-only inventory content.
type Question struct {
	ID         string    `json:"id" yaml:"id"`
	TopicID    string    `json:"topicId" yaml:"topic"`
	Difficulty int       `json:"difficulty" yaml:"difficulty"` // 1..5
	Prompt     string    `json:"prompt" yaml:"prompt"`
	Answers    []string  `json:"answers" yaml:"answers"`
	Mode       MatchMode `json:"mode" yaml:"mode"`
}

// QuizState is the lifecycle of a quiz instance.
type QuizState string

const (
	QuizOpen      QuizState = "OPEN"
	QuizSubmitted QuizState = "SUBMITTED"
)

// QuizInstance is a generated quiz. Question order is fixed at creation.
type QuizInstance struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Name        string     `json:"name"`
	QuestionIDs []string   `json:"questionIds"`
	Requested   int        `json:"requested"`
	State       QuizState  `json:"state"`
	Score       *float64   `json:"score,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`
}

// Short reports whether the inventory could not satisfy the requested count.
func (q QuizInstance) Short() bool {
	return len(q.QuestionIDs) < q.Requested
}

// AnswerSubmission models the answers a client sends for one quiz.
type AnswerSubmission struct {
	QuizID  string
	Answers map[string]string
	Elapsed map[string]time.Duration
}

// QuestionResult is the graded outcome of one question in a quiz.
type QuestionResult struct {
	QuestionID string        `json:"questionId"`
	TopicID    string        `json:"topicId"`
	Correct    bool          `json:"correct"`
	Elapsed    time.Duration `json:"elapsed,omitempty"`
}

// ScoreRecord is the immutable outcome of a submission.
type ScoreRecord struct {
	ID           string           `json:"id"`
	QuizID       string           `json:"quizId"`
	Owner        string           `json:"owner"`
	TotalCorrect int              `json:"totalCorrect"`
	Total        int              `json:"total"`
	Score        float64          `json:"score"`
	Results      []QuestionResult `json:"results"`
	CreatedAt    time.Time        `json:"createdAt"`
}

// Topics returns the distinct topics of the record in question order.
func (r ScoreRecord) Topics() []string {
	seen := make(map[string]struct{}, len(r.Results))
	topics := make([]string, 0, len(r.Results))
	for _, res := range r.Results {
		if res.TopicID == "" {
			continue
		}
		if _, ok := seen[res.TopicID]; ok {
			continue
		}
		seen[res.TopicID] = struct{}{}
		topics = append(topics, res.TopicID)
	}
	return topics
}

// TopicScore returns the fraction of correct answers for a topic within the record.
// ok is false when the record has no question on the topic.
func (r ScoreRecord) TopicScore(topicID string) (score float64, ok bool) {
	var correct, total int
	for _, res := range r.Results {
		if res.TopicID != topicID {
			continue
		}
		total++
		if res.Correct {
			correct++
		}
	}
	if total == 0 {
		return 0, false
	}
	return float64(correct) / float64(total), true
}

// Answered counts the record's questions on topicID, or all of them when topicID is empty.
func (r ScoreRecord) Answered(topicID string) int {
	if topicID == "" {
		if len(r.Results) == 0 {
			return r.Total
		}
		return len(r.Results)
	}
	n := 0
	for _, res := range r.Results {
		if res.TopicID == topicID {
			n++
		}
	}
	return n
}

// TopicPerformanceSummary is derived from score history and never stored.
type TopicPerformanceSummary struct {
	TopicID      string    `json:"topicId"`
	AverageScore float64   `json:"averageScore"`
	TotalMinutes float64   `json:"totalMinutes"`
	Attempts     int       `json:"attempts"`
	RecentScores []float64 `json:"recentScores"`
}

// ActionLevel is the discretized intervention tier.
type ActionLevel int

const (
	ActionMonitor ActionLevel = iota + 1
	ActionPractice
	ActionIntervene
)

func (l ActionLevel) String() string {
	switch l {
	case ActionMonitor:
		return "MONITOR"
	case ActionPractice:
		return "PRACTICE"
	case ActionIntervene:
		return "INTERVENE"
	default:
		return "UNKNOWN"
	}
}

// Valid reports whether l is one of the three defined levels.
func (l ActionLevel) Valid() bool {
	return l >= ActionMonitor && l <= ActionIntervene
}

// ActionLevelFor discretizes a weakness probability.
func ActionLevelFor(probability float64) ActionLevel {
	switch {
	case probability >= 0.7:
		return ActionIntervene
	case probability >= 0.4:
		return ActionPractice
	default:
		return ActionMonitor
	}
}

// WeaknessAssessment is one topic's judgment from a single analyzer run.
type WeaknessAssessment struct {
	Owner        string      `json:"owner"`
	TopicID      string      `json:"topicId"`
	Probability  float64     `json:"probability"`
	Action       ActionLevel `json:"action"`
	AverageScore float64     `json:"averageScore"`
}

// AssessmentRun is a stored history-mode analysis. Records is the length of the score
// history it was derived from.
type AssessmentRun struct {
	Records     int                  `json:"records"`
	Assessments []WeaknessAssessment `json:"assessments"`
}

// QuestStatus is the lifecycle of a quest; COMPLETED and EXPIRED are terminal.
type QuestStatus string

const (
	QuestActive    QuestStatus = "ACTIVE"
	QuestCompleted QuestStatus = "COMPLETED"
	QuestExpired   QuestStatus = "EXPIRED"
)

// ObjectiveMetric is what an objective measures.
type ObjectiveMetric string

const (
	MetricAttempts       ObjectiveMetric = "attempts_count"
	MetricScoreThreshold ObjectiveMetric = "score_threshold"
	MetricTopicMastery   ObjectiveMetric = "topic_mastery"
)

// QuestObjective is a single measurable target. TopicID is empty for topic-agnostic objectives.
type QuestObjective struct {
	ID        string          `json:"id"`
	QuestID   string          `json:"questId"`
	Position  int             `json:"position"`
	TopicID   string          `json:"topicId,omitempty"`
	Metric    ObjectiveMetric `json:"metric"`
	Target    int             `json:"target"`
	Progress  int             `json:"progress"`
	Completed bool            `json:"completed"`
}

// Quest groups objectives; completing all of them issues the reward once.
type Quest struct {
	ID          string           `json:"id"`
	Owner       string           `json:"owner"`
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Status      QuestStatus      `json:"status"`
	Reward      int              `json:"reward"`
	Objectives  []QuestObjective `json:"objectives"`
	CreatedAt   time.Time        `json:"createdAt"`
	ExpiresAt   time.Time        `json:"expiresAt"`
	CompletedAt *time.Time       `json:"completedAt,omitempty"`
}

// Topics returns the non-empty objective topics of the quest.
func (q Quest) Topics() []string {
	var topics []string
	for _, o := range q.Objectives {
		if o.TopicID != "" {
			topics = append(topics, o.TopicID)
		}
	}
	return topics
}

// RewardEvent is consumed by the currency ledger. Reason carries the quest id.
type RewardEvent struct {
	ID          string     `json:"id"`
	Owner       string     `json:"owner"`
	Amount      int        `json:"amount"`
	Reason      string     `json:"reason"`
	CreatedAt   time.Time  `json:"createdAt"`
	DeliveredAt *time.Time `json:"deliveredAt,omitempty"`
}

// LeaderboardEntry is a snapshot-friendly view of one owner's total.
type LeaderboardEntry struct {
	UserID string `json:"userId"`
	Score  int    `json:"score"`
}

// Leaderboard captures the ordered scoreboard.
type Leaderboard struct {
	Entries   []LeaderboardEntry `json:"entries"`
	UpdatedAt time.Time          `json:"updatedAt"`
}
