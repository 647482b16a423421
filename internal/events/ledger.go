// Package events publishes reward issuances to the currency ledger over RabbitMQ.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"adaptive-assessment-service/internal/domain"
	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

const (
	DefaultExchange   = "currency-events"
	RewardRoutingKey  = "reward.issued"
	publishTimeout    = 5 * time.Second
	rewardMessageType = "RewardIssued"
)

// ErrNotConnected is returned while the publisher is reconnecting.
var ErrNotConnected = fmt.Errorf("rabbitmq not connected: %w", domain.ErrUnavailable)

// confirmation is a pending broker acknowledgement for one publishing.
type confirmation interface {
	WaitContext(ctx context.Context) (bool, error)
}

// session is one connection with a confirm-mode channel and a declared exchange.
type session interface {
	Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (confirmation, error)
	// NotifyClose yields once when the channel or its connection goes away.
	NotifyClose() <-chan *amqp091.Error
	Close() error
}

type dialFunc func(url, exchange string) (session, error)

// RewardMessage is the wire format consumed by the ledger service.
type RewardMessage struct {
	EventID  string    `json:"eventId"`
	UserID   string    `json:"userId"`
	Amount   int       `json:"amount"`
	Reason   string    `json:"reason"`
	IssuedAt time.Time `json:"issuedAt"`
}

// LedgerPublisher implements app.Ledger on a topic exchange. The AMQP message id is the
// reward event id so the consumer can drop redeliveries. Issue returns only after the
// broker confirmed the message; a dropped connection is re-established in the background.
type LedgerPublisher struct {
	url      string
	exchange string
	enabled  bool
	log      logrus.FieldLogger
	dial     dialFunc

	minBackoff time.Duration
	maxBackoff time.Duration

	mu      sync.RWMutex
	session session

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewLedgerPublisher connects and declares the exchange. An empty url returns a
// disabled publisher that only logs rewards.
func NewLedgerPublisher(url, exchange string, log logrus.FieldLogger) (*LedgerPublisher, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}
	if url == "" {
		log.Warn("rabbitmq url is empty, rewards are logged but not published")
		return &LedgerPublisher{exchange: exchange, log: log, done: make(chan struct{})}, nil
	}
	return newLedgerPublisher(dialAMQP, url, exchange, log)
}

func newLedgerPublisher(dial dialFunc, url, exchange string, log logrus.FieldLogger) (*LedgerPublisher, error) {
	s, err := dial(url, exchange)
	if err != nil {
		return nil, err
	}
	p := &LedgerPublisher{
		url:        url,
		exchange:   exchange,
		enabled:    true,
		log:        log,
		dial:       dial,
		minBackoff: time.Second,
		maxBackoff: 30 * time.Second,
		session:    s,
		done:       make(chan struct{}),
	}
	p.wg.Add(1)
	go p.monitor(s)
	return p, nil
}

// monitor waits for s to close and reconnects until it succeeds or the publisher is closed.
func (p *LedgerPublisher) monitor(s session) {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case amqpErr := <-s.NotifyClose():
			select {
			case <-p.done:
				return
			default:
			}
			p.log.WithField("reason", amqpErr).Warn("rabbitmq connection lost, reconnecting")
			p.setSession(nil)
			_ = s.Close()

			next, ok := p.reconnect()
			if !ok {
				return
			}
			s = next
		}
	}
}

func (p *LedgerPublisher) reconnect() (session, bool) {
	backoff := p.minBackoff
	for {
		timer := time.NewTimer(backoff)
		select {
		case <-p.done:
			timer.Stop()
			return nil, false
		case <-timer.C:
		}

		s, err := p.dial(p.url, p.exchange)
		if err == nil {
			p.setSession(s)
			p.log.Info("reconnected to rabbitmq")
			return s, true
		}
		p.log.WithError(err).Warn("rabbitmq reconnect failed")
		backoff = min(backoff*2, p.maxBackoff)
	}
}

func (p *LedgerPublisher) setSession(s session) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.session = s
}

func (p *LedgerPublisher) current() session {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.session
}

func (p *LedgerPublisher) Issue(ctx context.Context, event domain.RewardEvent) error {
	entry := p.log.WithFields(logrus.Fields{
		"owner":    event.Owner,
		"quest_id": event.Reason,
		"amount":   event.Amount,
		"event_id": event.ID,
	})
	if !p.enabled {
		entry.Info("reward issued (publishing disabled)")
		return nil
	}
	s := p.current()
	if s == nil {
		return ErrNotConnected
	}

	body, err := json.Marshal(RewardMessage{
		EventID:  event.ID,
		UserID:   event.Owner,
		Amount:   event.Amount,
		Reason:   event.Reason,
		IssuedAt: event.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("marshal reward: %w", err)
	}

	pubCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	confirm, err := s.Publish(pubCtx, p.exchange, RewardRoutingKey, amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    event.ID,
		Type:         rewardMessageType,
		Timestamp:    event.CreatedAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish reward: %w", err)
	}
	acked, err := confirm.WaitContext(pubCtx)
	if err != nil {
		return fmt.Errorf("await reward confirm: %w", err)
	}
	if !acked {
		return errors.New("reward nacked by broker")
	}
	entry.Info("reward published")
	return nil
}

// Close stops reconnecting and closes the current connection.
func (p *LedgerPublisher) Close() error {
	var err error
	p.closeOnce.Do(func() {
		close(p.done)
		if s := p.current(); s != nil {
			err = s.Close()
			p.setSession(nil)
		}
		p.wg.Wait()
	})
	return err
}

type amqpSession struct {
	conn   *amqp091.Connection
	ch     *amqp091.Channel
	closed chan *amqp091.Error
}

func dialAMQP(url, exchange string) (session, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err == nil {
		err = ch.Confirm(false)
	}
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("prepare channel: %w", err)
	}
	// A connection shutdown also closes its channels, so one channel listener covers both.
	return &amqpSession{conn: conn, ch: ch, closed: ch.NotifyClose(make(chan *amqp091.Error, 1))}, nil
}

func (s *amqpSession) Publish(ctx context.Context, exchange, key string, msg amqp091.Publishing) (confirmation, error) {
	dc, err := s.ch.PublishWithDeferredConfirmWithContext(ctx, exchange, key, false, false, msg)
	if err != nil {
		return nil, err
	}
	if dc == nil {
		return nil, errors.New("channel is not in confirm mode")
	}
	return dc, nil
}

func (s *amqpSession) NotifyClose() <-chan *amqp091.Error { return s.closed }

func (s *amqpSession) Close() error {
	_ = s.ch.Close()
	if s.conn.IsClosed() {
		return nil
	}
	return s.conn.Close()
}
