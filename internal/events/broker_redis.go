package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBroker implements Broker over Redis pub/sub so multiple service
// instances see each other's run events.
type RedisBroker struct {
	rdb *redis.Client

	mu      sync.Mutex
	pubsubs map[chan Event]*redis.PubSub
}

func NewRedisBroker(url string) (*RedisBroker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("redis broker: parse url: %w", err)
	}
	rdb := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis broker: ping: %w", err)
	}

	return &RedisBroker{rdb: rdb, pubsubs: map[chan Event]*redis.PubSub{}}, nil
}

func (b *RedisBroker) Subscribe(runID int64) chan Event {
	ch := make(chan Event, 16)
	ctx := context.Background()

	ps := b.rdb.Subscribe(ctx, b.chanName(runID))
	// Force the subscription onto the wire before returning.
	_, _ = ps.Receive(ctx)

	b.mu.Lock()
	b.pubsubs[ch] = ps
	b.mu.Unlock()

	go func() {
		defer close(ch)
		for msg := range ps.Channel() {
			var evt Event
			if err := json.Unmarshal([]byte(msg.Payload), &evt); err != nil {
				continue
			}
			select {
			case ch <- evt:
			default:
			}
		}
	}()
	return ch
}

func (b *RedisBroker) Unsubscribe(runID int64, ch chan Event) {
	b.mu.Lock()
	ps := b.pubsubs[ch]
	delete(b.pubsubs, ch)
	b.mu.Unlock()

	// Closing the PubSub ends the reader goroutine, which closes ch.
	if ps != nil {
		_ = ps.Close()
	}
}

func (b *RedisBroker) Publish(runID int64, evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	data, err := json.Marshal(evt)
	if err != nil {
		return
	}
	_ = b.rdb.Publish(ctx, b.chanName(runID), data).Err()
}

// Close releases the underlying Redis connection.
func (b *RedisBroker) Close() error {
	return b.rdb.Close()
}

func (b *RedisBroker) chanName(runID int64) string {
	return fmt.Sprintf("run:%d", runID)
}
