package queue

import (
	"context"
	"sync"
	"time"
)

// Queue is the message-passing collaborator used for work that must
// not block a webhook acknowledgment, such as mention/DM handling.
// Push either accepts the message durably or fails immediately, the
// reply to a queued message arrives out-of-band
type Queue interface {
	Push(PushOpts) (*PushOutput, error)
	Subscribe(SubscribeOpts) error
	Ping() error
}

type Message struct {
	Data    []byte `json:"data"`
	Subject string `json:"subject"`
}

type MessageHandler func(context.Context, Message) error

type PushOpts struct {
	Data  []byte
	Queue QueueOpts
}

type PushOutput struct {
	MessageSizeBytes int
	Queue            QueueOpts
}

type QueueOpts struct {
	Stream  string
	Subject string
}

type SubscribeOpts struct {
	ConsumerId string
	Context    context.Context
	Handler    MessageHandler
	Queue      QueueOpts
	NakBackoff time.Duration
}

// Memory is an in-process Queue for tests and single-node runs,
// messages pushed before any subscriber arrives are buffered
type Memory struct {
	mutex    sync.Mutex
	messages []Message
	notify   chan struct{}
}

func NewMemory() *Memory {
	return &Memory{
		notify: make(chan struct{}, 1),
	}
}

func (m *Memory) Push(opts PushOpts) (*PushOutput, error) {
	m.mutex.Lock()
	m.messages = append(m.messages, Message{
		Data:    opts.Data,
		Subject: opts.Queue.Subject,
	})
	m.mutex.Unlock()
	select {
	case m.notify <- struct{}{}:
	default:
	}
	return &PushOutput{
		MessageSizeBytes: len(opts.Data),
		Queue:            opts.Queue,
	}, nil
}

func (m *Memory) Subscribe(opts SubscribeOpts) error {
	for {
		select {
		case <-opts.Context.Done():
			return opts.Context.Err()
		case <-m.notify:
		}
		for {
			m.mutex.Lock()
			if len(m.messages) == 0 {
				m.mutex.Unlock()
				break
			}
			message := m.messages[0]
			m.messages = m.messages[1:]
			m.mutex.Unlock()
			if err := opts.Handler(opts.Context, message); err != nil {
				// handler failures are retried by requeueing at the back
				m.mutex.Lock()
				m.messages = append(m.messages, message)
				m.mutex.Unlock()
				time.Sleep(opts.NakBackoff)
			}
		}
	}
}

func (m *Memory) Ping() error {
	return nil
}

// Depth is used by tests to observe buffered messages
func (m *Memory) Depth() int {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	return len(m.messages)
}
