package memory

import (
	"context"
	"fmt"
	"os"
	"slices"
	"sort"

	"adaptive-assessment-service/internal/domain"
	"gopkg.in/yaml.v3"
)

// InventoryFile is the YAML layout of a question inventory seed.
type InventoryFile struct {
	Topics    []domain.Topic    `yaml:"topics"`
	Questions []domain.Question `yaml:"questions"`
}

// LoadInventoryFile parses a YAML inventory and validates it.
func LoadInventoryFile(path string) (*StaticInventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file InventoryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return NewStaticInventory(file.Topics, file.Questions)
}

// StaticInventory is an immutable in-memory question inventory (useful for tests/demos).
type StaticInventory struct {
	topics    []domain.Topic
	questions []domain.Question // sorted by id
	byID      map[string]domain.Question
}

func NewStaticInventory(topics []domain.Topic, questions []domain.Question) (*StaticInventory, error) {
	known := make(map[string]struct{}, len(topics))
	for _, t := range topics {
		known[t.ID] = struct{}{}
	}
	inv := &StaticInventory{
		topics: slices.Clone(topics),
		byID:   make(map[string]domain.Question, len(questions)),
	}
	for _, q := range questions {
		if q.ID == "" {
			return nil, fmt.Errorf("question without id: %w", domain.ErrInvalidRequest)
		}
		if _, dup := inv.byID[q.ID]; dup {
			return nil, fmt.Errorf("duplicate question %s: %w", q.ID, domain.ErrInvalidRequest)
		}
		if len(known) > 0 {
			if _, ok := known[q.TopicID]; !ok {
				return nil, fmt.Errorf("question %s references unknown topic %q: %w", q.ID, q.TopicID, domain.ErrInvalidRequest)
			}
		}
		if q.Difficulty < 1 || q.Difficulty > 5 {
			return nil, fmt.Errorf("question %s difficulty %d outside 1..5: %w", q.ID, q.Difficulty, domain.ErrInvalidRequest)
		}
		if q.Mode == "" {
			q.Mode = domain.MatchExact
		}
		inv.byID[q.ID] = q
		inv.questions = append(inv.questions, q)
	}
	sort.Slice(inv.questions, func(i, j int) bool { return inv.questions[i].ID < inv.questions[j].ID })
	return inv, nil
}

func (i *StaticInventory) FindQuestions(_ context.Context, topicIDs []string, difficulties []int) ([]domain.Question, error) {
	var out []domain.Question
	for _, q := range i.questions {
		if !slices.Contains(topicIDs, q.TopicID) {
			continue
		}
		if len(difficulties) > 0 && !slices.Contains(difficulties, q.Difficulty) {
			continue
		}
		out = append(out, q)
	}
	return out, nil
}

func (i *StaticInventory) Lookup(_ context.Context, ids []string) (map[string]domain.Question, error) {
	out := make(map[string]domain.Question, len(ids))
	for _, id := range ids {
		if q, ok := i.byID[id]; ok {
			out[id] = q
		}
	}
	return out, nil
}

// Topics returns the inventory topics in file order.
func (i *StaticInventory) Topics() []domain.Topic { return slices.Clone(i.topics) }

// Questions returns every question ordered by id.
func (i *StaticInventory) Questions() []domain.Question { return slices.Clone(i.questions) }
