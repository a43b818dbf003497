// Package transporttest provides in-memory publisher and subscriber doubles
// for exercising broker-backed links without a broker.
package transporttest

import (
	"context"
	"sync"

	"github.com/ThreeDotsLabs/watermill/message"
)

// Publisher records every published message.
type Publisher struct {
	mu       sync.Mutex
	Err      error
	topics   []string
	messages []*message.Message
	closed   bool
}

func (p *Publisher) Publish(topic string, messages ...*message.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	for _, m := range messages {
		p.topics = append(p.topics, topic)
		p.messages = append(p.messages, m)
	}
	return nil
}

func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	return nil
}

// Published returns the topics and messages published so far.
func (p *Publisher) Published() ([]string, []*message.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.topics...), append([]*message.Message(nil), p.messages...)
}

// Closed reports whether Close was called.
func (p *Publisher) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Subscriber hands out one channel that Deliver feeds.
type Subscriber struct {
	mu     sync.Mutex
	Err    error
	topics []string
	ch     chan *message.Message
	closed bool
}

// NewSubscriber returns a subscriber with room for buffer undelivered messages.
func NewSubscriber(buffer int) *Subscriber {
	return &Subscriber{ch: make(chan *message.Message, buffer)}
}

func (s *Subscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return nil, s.Err
	}
	s.topics = append(s.topics, topic)
	return s.ch, nil
}

func (s *Subscriber) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Deliver queues a message carrying payload.
func (s *Subscriber) Deliver(uuid string, payload []byte) *message.Message {
	msg := message.NewMessage(uuid, payload)
	s.ch <- msg
	return msg
}

// Topics returns the subscribed topics.
func (s *Subscriber) Topics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.topics...)
}

// Closed reports whether Close was called.
func (s *Subscriber) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
