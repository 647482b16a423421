package events

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeConfirmation struct {
	acked bool
	err   error
}

func (c fakeConfirmation) WaitContext(context.Context) (bool, error) { return c.acked, c.err }

type fakeSession struct {
	mu        sync.Mutex
	published []amqp091.Publishing
	keys      []string
	err       error
	confirm   fakeConfirmation
	closed    chan *amqp091.Error
	closes    int
}

func newFakeSession() *fakeSession {
	return &fakeSession{confirm: fakeConfirmation{acked: true}, closed: make(chan *amqp091.Error, 1)}
}

func (f *fakeSession) Publish(_ context.Context, _, key string, msg amqp091.Publishing) (confirmation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return f.confirm, nil
}

func (f *fakeSession) NotifyClose() <-chan *amqp091.Error { return f.closed }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

// dialSequence hands out sessions in order, failing while failures remain.
type dialSequence struct {
	mu       sync.Mutex
	sessions []*fakeSession
	failures int
	calls    int
}

func (d *dialSequence) dial(string, string) (session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if d.calls > 1 && d.failures > 0 {
		d.failures--
		return nil, errors.New("connection refused")
	}
	s := d.sessions[0]
	d.sessions = d.sessions[1:]
	return s, nil
}

func newTestPublisher(t *testing.T, dial *dialSequence) *LedgerPublisher {
	t.Helper()
	log, _ := test.NewNullLogger()
	p, err := newLedgerPublisher(dial.dial, "amqp://test", DefaultExchange, log)
	if err != nil {
		t.Fatalf("new publisher: %v", err)
	}
	p.minBackoff = time.Millisecond
	p.maxBackoff = 5 * time.Millisecond
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func sampleEvent() domain.RewardEvent {
	return domain.RewardEvent{ID: "ev-1", Owner: "u1", Amount: 100, Reason: "quest-1", CreatedAt: time.Unix(1700000000, 0).UTC()}
}

func TestIssuePublishesRewardMessage(t *testing.T) {
	s := newFakeSession()
	p := newTestPublisher(t, &dialSequence{sessions: []*fakeSession{s}})

	if err := p.Issue(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(s.published) != 1 || s.keys[0] != RewardRoutingKey {
		t.Fatalf("expected one reward.issued message, got %v", s.keys)
	}
	msg := s.published[0]
	if msg.MessageId != "ev-1" || msg.DeliveryMode != amqp091.Persistent {
		t.Fatalf("unexpected publishing %+v", msg)
	}
	var body RewardMessage
	if err := json.Unmarshal(msg.Body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.UserID != "u1" || body.Amount != 100 || body.Reason != "quest-1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestIssueRequiresBrokerAck(t *testing.T) {
	cases := []struct {
		name    string
		confirm fakeConfirmation
		pubErr  error
	}{
		{"nack", fakeConfirmation{acked: false}, nil},
		{"confirm error", fakeConfirmation{err: context.DeadlineExceeded}, nil},
		{"publish error", fakeConfirmation{acked: true}, errors.New("channel closed")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			s := newFakeSession()
			s.confirm = tc.confirm
			s.err = tc.pubErr
			p := newTestPublisher(t, &dialSequence{sessions: []*fakeSession{s}})
			if err := p.Issue(context.Background(), sampleEvent()); err == nil {
				t.Fatal("expected issue to fail without a broker ack")
			}
		})
	}
}

func TestPublisherReconnectsAfterConnectionLoss(t *testing.T) {
	first, second := newFakeSession(), newFakeSession()
	dial := &dialSequence{sessions: []*fakeSession{first, second}, failures: 2}
	p := newTestPublisher(t, dial)

	first.closed <- &amqp091.Error{Code: amqp091.ConnectionForced, Reason: "broker restart"}

	deadline := time.Now().Add(2 * time.Second)
	for p.current() != second {
		if time.Now().After(deadline) {
			t.Fatal("publisher did not reconnect")
		}
		time.Sleep(time.Millisecond)
	}
	if err := p.Issue(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("issue after reconnect: %v", err)
	}

	if second.count() != 1 {
		t.Fatalf("expected the message on the new session, got %d", second.count())
	}
	if first.closes == 0 {
		t.Fatal("expected the lost session to be closed")
	}
	if dial.calls != 4 {
		t.Fatalf("expected two failed reconnects before success, got %d dials", dial.calls)
	}
}

func TestIssueWhileDisconnected(t *testing.T) {
	log, _ := test.NewNullLogger()
	p := &LedgerPublisher{exchange: DefaultExchange, enabled: true, log: log, done: make(chan struct{})}
	if err := p.Issue(context.Background(), sampleEvent()); !errors.Is(err, domain.ErrUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestDisabledPublisherLogsOnly(t *testing.T) {
	log, hook := test.NewNullLogger()
	p, err := NewLedgerPublisher("", "", log)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	if err := p.Issue(context.Background(), domain.RewardEvent{ID: "ev-1", Owner: "u1"}); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if hook.LastEntry() == nil || hook.LastEntry().Data["event_id"] != "ev-1" {
		t.Fatalf("expected reward to be logged, got %+v", hook.LastEntry())
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
