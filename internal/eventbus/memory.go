package eventbus

import (
	"context"
	"sync"
)

// MemoryBus is an in-process stand-in for the broker used by tests. It keeps
// one ordered log per topic and one committed position per consumer group,
// matching the fetch/commit semantics of the Kafka loop: a handler error
// leaves the position where it was, so the next Consume call redelivers.
type MemoryBus struct {
	mu      sync.Mutex
	topics  map[string][]Message
	offsets map[string]int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		topics:  make(map[string][]Message),
		offsets: make(map[string]int),
	}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, key string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	log := b.topics[topic]
	b.topics[topic] = append(log, Message{
		Topic:   topic,
		Key:     key,
		Payload: payload,
		Offset:  int64(len(log)),
	})
	return nil
}

func (b *MemoryBus) Close() error { return nil }

// Messages returns a copy of everything published to a topic.
func (b *MemoryBus) Messages(topic string) []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Message, len(b.topics[topic]))
	copy(out, b.topics[topic])
	return out
}

// Consume delivers uncommitted messages for the group in publish order. The
// position advances past a message only when the handler returns nil; on
// error delivery stops and the same message is redelivered next time.
func (b *MemoryBus) Consume(ctx context.Context, topic, group string, handler Handler) error {
	for {
		b.mu.Lock()
		key := group + "/" + topic
		pos := b.offsets[key]
		if pos >= len(b.topics[topic]) {
			b.mu.Unlock()
			return nil
		}
		msg := b.topics[topic][pos]
		b.mu.Unlock()

		if err := handler(ctx, msg); err != nil {
			return err
		}

		b.mu.Lock()
		b.offsets[key] = pos + 1
		b.mu.Unlock()
	}
}
