package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"adaptive-assessment-service/internal/app"
	"adaptive-assessment-service/internal/domain"
)

// Store is an in-memory implementation of app.Store. Each owner transaction works on
// a copy of the owner's state that replaces the original only on success.
type Store struct {
	locks *app.OwnerLocks

	mu        sync.RWMutex
	owners    map[string]*ownerState
	quizOwner map[string]string
	rewards   []domain.RewardEvent
}

type ownerState struct {
	quizzes        map[string]domain.QuizInstance
	records        []domain.ScoreRecord
	quests         []domain.Quest // creation order
	applied        map[string]struct{}
	assessment     domain.AssessmentRun
	haveAssessment bool
}

func newOwnerState() *ownerState {
	return &ownerState{
		quizzes: make(map[string]domain.QuizInstance),
		applied: make(map[string]struct{}),
	}
}

func (s *ownerState) clone() *ownerState {
	c := &ownerState{
		quizzes:        make(map[string]domain.QuizInstance, len(s.quizzes)),
		records:        slices.Clone(s.records),
		quests:         make([]domain.Quest, len(s.quests)),
		applied:        make(map[string]struct{}, len(s.applied)),
		assessment:     s.assessment,
		haveAssessment: s.haveAssessment,
	}
	for k, v := range s.quizzes {
		c.quizzes[k] = v
	}
	for i, q := range s.quests {
		c.quests[i] = copyQuest(q)
	}
	for k := range s.applied {
		c.applied[k] = struct{}{}
	}
	return c
}

func NewStore() *Store {
	return &Store{
		locks:     app.NewOwnerLocks(),
		owners:    make(map[string]*ownerState),
		quizOwner: make(map[string]string),
	}
}

func (s *Store) WithinOwner(ctx context.Context, owner string, fn func(ctx context.Context, tx app.Tx) error) error {
	unlock, err := s.locks.Lock(ctx, owner)
	if err != nil {
		return err
	}
	defer unlock()

	s.mu.RLock()
	state, ok := s.owners[owner]
	s.mu.RUnlock()
	if !ok {
		state = newOwnerState()
	}

	tx := &memTx{owner: owner, state: state.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range tx.newQuizzes {
		if _, ok := s.quizOwner[id]; ok {
			return fmt.Errorf("quiz %s: %w", id, domain.ErrConflict)
		}
	}
	for _, ev := range tx.rewards {
		for _, existing := range s.rewards {
			if existing.Reason == ev.Reason {
				return fmt.Errorf("reward for quest %s: %w", ev.Reason, domain.ErrConflict)
			}
		}
	}
	s.owners[owner] = tx.state
	for _, id := range tx.newQuizzes {
		s.quizOwner[id] = owner
	}
	s.rewards = append(s.rewards, tx.rewards...)
	return nil
}

func (s *Store) CreateQuiz(ctx context.Context, quiz domain.QuizInstance) error {
	return s.WithinOwner(ctx, quiz.Owner, func(_ context.Context, tx app.Tx) error {
		mt := tx.(*memTx)
		quiz.QuestionIDs = slices.Clone(quiz.QuestionIDs)
		mt.state.quizzes[quiz.ID] = quiz
		mt.newQuizzes = append(mt.newQuizzes, quiz.ID)
		return nil
	})
}

func (s *Store) GetQuiz(_ context.Context, quizID string) (domain.QuizInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	owner, ok := s.quizOwner[quizID]
	if !ok {
		return domain.QuizInstance{}, domain.ErrQuizNotFound
	}
	quiz := s.owners[owner].quizzes[quizID]
	quiz.QuestionIDs = slices.Clone(quiz.QuestionIDs)
	return quiz, nil
}

func (s *Store) ScoreHistory(_ context.Context, owner string) ([]domain.ScoreRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.owners[owner]
	if !ok {
		return nil, nil
	}
	return slices.Clone(state.records), nil
}

func (s *Store) ListQuests(_ context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.owners[owner]
	if !ok {
		return nil, nil
	}
	return filterQuests(state.quests, status), nil
}

func (s *Store) LatestAssessment(_ context.Context, owner string) (domain.AssessmentRun, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.owners[owner]
	if !ok || !state.haveAssessment {
		return domain.AssessmentRun{}, false, nil
	}
	run := state.assessment
	run.Assessments = slices.Clone(run.Assessments)
	return run, true, nil
}

func (s *Store) SaveAssessment(ctx context.Context, owner string, run domain.AssessmentRun) error {
	return s.WithinOwner(ctx, owner, func(_ context.Context, tx app.Tx) error {
		mt := tx.(*memTx)
		run.Assessments = slices.Clone(run.Assessments)
		mt.state.assessment = run
		mt.state.haveAssessment = true
		return nil
	})
}

func (s *Store) PendingRewards(_ context.Context, limit int) ([]domain.RewardEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.RewardEvent
	for _, ev := range s.rewards {
		if ev.DeliveredAt != nil {
			continue
		}
		out = append(out, ev)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkRewardDelivered(_ context.Context, eventID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.rewards {
		if s.rewards[i].ID == eventID {
			if s.rewards[i].DeliveredAt == nil {
				s.rewards[i].DeliveredAt = &at
			}
			return nil
		}
	}
	return fmt.Errorf("reward event %s: %w", eventID, domain.ErrNotFound)
}

// Rewards returns every reward event ever enqueued.
func (s *Store) Rewards() []domain.RewardEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.rewards)
}

type memTx struct {
	owner      string
	state      *ownerState
	rewards    []domain.RewardEvent
	newQuizzes []string
}

func (t *memTx) MarkSubmitted(_ context.Context, quizID string, score float64, at time.Time) error {
	quiz, ok := t.state.quizzes[quizID]
	if !ok {
		return domain.ErrQuizNotFound
	}
	if quiz.State != domain.QuizOpen {
		return domain.ErrAlreadySubmitted
	}
	quiz.State = domain.QuizSubmitted
	quiz.Score = &score
	quiz.SubmittedAt = &at
	t.state.quizzes[quizID] = quiz
	return nil
}

func (t *memTx) InsertScoreRecord(_ context.Context, record domain.ScoreRecord) error {
	record.Results = slices.Clone(record.Results)
	t.state.records = append(t.state.records, record)
	return nil
}

func (t *memTx) ScoreHistory(_ context.Context, owner string) ([]domain.ScoreRecord, error) {
	if owner != t.owner {
		return nil, domain.ErrNotOwner
	}
	return slices.Clone(t.state.records), nil
}

func (t *memTx) ListQuests(_ context.Context, owner string, status domain.QuestStatus) ([]domain.Quest, error) {
	if owner != t.owner {
		return nil, domain.ErrNotOwner
	}
	return filterQuests(t.state.quests, status), nil
}

func (t *memTx) InsertQuest(_ context.Context, quest domain.Quest) error {
	if quest.Owner != t.owner {
		return domain.ErrNotOwner
	}
	t.state.quests = append(t.state.quests, copyQuest(quest))
	return nil
}

func (t *memTx) UpdateObjective(_ context.Context, objective domain.QuestObjective) error {
	q := t.quest(objective.QuestID)
	if q == nil {
		return domain.ErrQuestNotFound
	}
	for i := range q.Objectives {
		o := &q.Objectives[i]
		if o.ID != objective.ID {
			continue
		}
		if objective.Progress > o.Progress {
			o.Progress = objective.Progress
		}
		o.Completed = o.Completed || objective.Completed
		return nil
	}
	return fmt.Errorf("objective %s: %w", objective.ID, domain.ErrNotFound)
}

func (t *memTx) CompleteQuest(_ context.Context, questID string, at time.Time) (bool, error) {
	q := t.quest(questID)
	if q == nil {
		return false, domain.ErrQuestNotFound
	}
	if q.Status != domain.QuestActive {
		return false, nil
	}
	q.Status = domain.QuestCompleted
	q.CompletedAt = &at
	return true, nil
}

func (t *memTx) ExpireQuest(_ context.Context, questID string) (bool, error) {
	q := t.quest(questID)
	if q == nil {
		return false, domain.ErrQuestNotFound
	}
	if q.Status != domain.QuestActive {
		return false, nil
	}
	q.Status = domain.QuestExpired
	return true, nil
}

func (t *memTx) MarkProgressApplied(_ context.Context, questID, recordID string) (bool, error) {
	key := questID + "/" + recordID
	if _, ok := t.state.applied[key]; ok {
		return false, nil
	}
	t.state.applied[key] = struct{}{}
	return true, nil
}

func (t *memTx) EnqueueReward(_ context.Context, event domain.RewardEvent) error {
	for _, ev := range t.rewards {
		if ev.Reason == event.Reason {
			return fmt.Errorf("reward for quest %s: %w", event.Reason, domain.ErrConflict)
		}
	}
	t.rewards = append(t.rewards, event)
	return nil
}

func (t *memTx) quest(id string) *domain.Quest {
	for i := range t.state.quests {
		if t.state.quests[i].ID == id {
			return &t.state.quests[i]
		}
	}
	return nil
}

func filterQuests(quests []domain.Quest, status domain.QuestStatus) []domain.Quest {
	out := make([]domain.Quest, 0, len(quests))
	for i := len(quests) - 1; i >= 0; i-- {
		if status == "" || quests[i].Status == status {
			out = append(out, copyQuest(quests[i]))
		}
	}
	// Newest first; creation order breaks ties between equal timestamps.
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func copyQuest(q domain.Quest) domain.Quest {
	q.Objectives = slices.Clone(q.Objectives)
	return q
}
