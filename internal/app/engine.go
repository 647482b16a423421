package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Policy holds the tunable constants of the engine.
type Policy struct {
	NumericTolerance       float64
	HistoryWindow          int
	RecentScores           int
	RecentQuizScores       int
	MaxActiveQuests        int
	MaxNewQuests           int
	MinWeaknessProbability float64
	MasteryThreshold       float64
	RewardBonusMax         int
	QuestTTL               time.Duration
	InferenceTimeout       time.Duration
	JudgeConcurrency       int
}

func DefaultPolicy() Policy {
	return Policy{
		NumericTolerance:       0.01,
		HistoryWindow:          10,
		RecentScores:           5,
		RecentQuizScores:       3,
		MaxActiveQuests:        3,
		MaxNewQuests:           2,
		MinWeaknessProbability: 0.5,
		MasteryThreshold:       0.7,
		QuestTTL:               7 * 24 * time.Hour,
		InferenceTimeout:       5 * time.Second,
		JudgeConcurrency:       4,
	}
}

// Options carries the optional collaborators of an Engine. Zero values get defaults.
type Options struct {
	Policy      *Policy
	Ledger      Ledger
	Leaderboard Leaderboard
	Feed        *Feed
	Metrics     Recorder
	Logger      logrus.FieldLogger
	Clock       func() time.Time
	Rand        *rand.Rand
	NewID       func() string
}

// Engine implements quiz generation, scoring, weakness analysis and quest progression.
type Engine struct {
	store       Store
	inventory   QuestionInventory
	judge       Judge
	rewards     *RewardDispatcher
	leaderboard Leaderboard
	feed        *Feed
	metrics     Recorder
	log         logrus.FieldLogger
	policy      Policy
	now         func() time.Time
	newID       func() string

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewEngine(store Store, inventory QuestionInventory, judge Judge, opts Options) *Engine {
	e := &Engine{
		store:       store,
		inventory:   inventory,
		judge:       judge,
		leaderboard: opts.Leaderboard,
		feed:        opts.Feed,
		metrics:     opts.Metrics,
		log:         opts.Logger,
		policy:      DefaultPolicy(),
		now:         opts.Clock,
		newID:       opts.NewID,
		rnd:         opts.Rand,
	}
	if opts.Policy != nil {
		e.policy = *opts.Policy
	}
	if e.feed == nil {
		e.feed = NewFeed()
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		e.log = l
	}
	if e.now == nil {
		e.now = time.Now
	}
	if opts.Ledger != nil {
		e.rewards = NewRewardDispatcher(store, opts.Ledger, e.metrics, e.log)
		e.rewards.now = e.now
	}
	if e.newID == nil {
		e.newID = uuid.NewString
	}
	if e.rnd == nil {
		e.rnd = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return e
}

// Rewards returns the dispatcher delivering the reward outbox, or nil without a ledger.
func (e *Engine) Rewards() *RewardDispatcher { return e.rewards }

// Policy returns the constants the engine runs with.
func (e *Engine) Policy() Policy { return e.policy }

// Subscribe streams progress events for owner. The first event is a snapshot of the
// owner's active quests. The caller must invoke cancel.
func (e *Engine) Subscribe(ctx context.Context, owner string) (<-chan FeedEvent, func(), error) {
	if owner == "" {
		return nil, nil, domain.InvalidRequest("owner is required")
	}
	active, err := e.ListActiveQuests(ctx, owner)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := e.feed.Subscribe(owner, FeedEvent{Type: EventSnapshot, Payload: active})
	return ch, cancel, nil
}

// Leaderboard returns the top owners by total correct answers.
func (e *Engine) Leaderboard(ctx context.Context, limit int) (domain.Leaderboard, error) {
	if e.leaderboard == nil {
		return domain.Leaderboard{UpdatedAt: e.now()}, nil
	}
	if limit <= 0 {
		limit = 10
	}
	return e.leaderboard.Top(ctx, limit)
}

func (e *Engine) intn(n int) int {
	e.rndMu.Lock()
	defer e.rndMu.Unlock()
	return e.rnd.Intn(n)
}

// withInferenceTimeout bounds one inference call.
func (e *Engine) withInferenceTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if e.policy.InferenceTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, e.policy.InferenceTimeout)
}
