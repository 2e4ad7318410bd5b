package eventbus

import "context"

// Message is one envelope on the bus. Key is the partition key: messages
// sharing a key are delivered to a consumer group in publish order.
type Message struct {
	Topic     string
	Key       string
	Payload   []byte
	Partition int
	Offset    int64
}

type Handler func(ctx context.Context, msg Message) error

type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}
