package app

import "sync"

// Feed event types.
const (
	EventSnapshot       = "snapshot"
	EventScore          = "score"
	EventQuestProgress  = "quest_progress"
	EventQuestCompleted = "quest_completed"
	EventQuestsCreated  = "quests_created"
)

// FeedEvent is one message on an owner's progress feed.
type FeedEvent struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// Feed fans out progress events to each owner's subscribers.
type Feed struct {
	mu          sync.Mutex
	subscribers map[string]map[chan FeedEvent]struct{}
}

func NewFeed() *Feed {
	return &Feed{subscribers: make(map[string]map[chan FeedEvent]struct{})}
}

// Subscribe registers a channel for owner and delivers initial first.
func (f *Feed) Subscribe(owner string, initial FeedEvent) (<-chan FeedEvent, func()) {
	ch := make(chan FeedEvent, 8)

	f.mu.Lock()
	subs, ok := f.subscribers[owner]
	if !ok {
		subs = make(map[chan FeedEvent]struct{})
		f.subscribers[owner] = subs
	}
	subs[ch] = struct{}{}
	ch <- initial
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		subs := f.subscribers[owner]
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(f.subscribers, owner)
		}
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber of owner. A full subscriber loses its oldest event.
func (f *Feed) Publish(owner string, ev FeedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for ch := range f.subscribers[owner] {
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
	}
}

// Subscribers reports how many channels are registered for owner.
func (f *Feed) Subscribers(owner string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.subscribers[owner])
}
