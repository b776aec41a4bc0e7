// Package eventbus fans out ordered per-topic event streams: trades and
// orderbook deltas per market, and fills/order-updates/balance-updates
// per user, grounded on the sibling kernel's websocket Hub register/
// unregister/broadcast shape, generalized to a topic-keyed subscription
// model instead of one flat broadcast channel.
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Topic names the five channel families from SPEC_FULL §4.5.
type Topic string

const (
	Trades        Topic = "trades"
	Orderbook     Topic = "orderbook"
	UserFills     Topic = "user_fills"
	UserOrders    Topic = "user_orders"
	UserBalances  Topic = "user_balances"
)

// Event is one message published to a topic key (e.g. "trades:BTC/USDC"
// or "user_fills:0xabc...").
type Event struct {
	Topic    Topic
	Key      string // market id or user address, depending on Topic
	Sequence uint64
	Payload  interface{}
}

const subscriberBuffer = 256

type subscriber struct {
	ch chan Event
}

// Bus is the in-process publish/subscribe hub. Safe for concurrent use.
// Delivery is at-most-once and non-blocking per subscriber: a slow
// subscriber drops events rather than stalling the publishing engine,
// matching SPEC_FULL §4.5's "subscribers must reconcile state from REST
// on (re)connect."
type Bus struct {
	log *zap.Logger

	mu   sync.RWMutex
	subs map[string][]*subscriber // topicKey -> subscribers
	seq  map[string]uint64        // topicKey -> next sequence number
}

func topicKey(topic Topic, key string) string {
	return string(topic) + ":" + key
}

// New returns an empty bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{log: log, subs: make(map[string][]*subscriber), seq: make(map[string]uint64)}
}

// Subscribe returns a receive channel for one topic+key combination. The
// returned cancel function must be called when the subscriber disconnects.
func (b *Bus) Subscribe(topic Topic, key string) (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, subscriberBuffer)}
	tk := topicKey(topic, key)

	b.mu.Lock()
	b.subs[tk] = append(b.subs[tk], s)
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		list := b.subs[tk]
		for i, sub := range list {
			if sub == s {
				b.subs[tk] = append(list[:i], list[i+1:]...)
				close(s.ch)
				return
			}
		}
	}
	return s.ch, cancel
}

// Publish delivers payload to every subscriber of topic+key, in the
// order Publish is called for that topic+key (FIFO per SPEC_FULL §4.5).
// Non-blocking: a full subscriber buffer drops this event for that
// subscriber only.
func (b *Bus) Publish(topic Topic, key string, payload interface{}) {
	tk := topicKey(topic, key)

	b.mu.Lock()
	b.seq[tk]++
	seq := b.seq[tk]
	subs := append([]*subscriber(nil), b.subs[tk]...)
	b.mu.Unlock()

	evt := Event{Topic: topic, Key: key, Sequence: seq, Payload: payload}
	for _, s := range subs {
		select {
		case s.ch <- evt:
		default:
			b.log.Warn("eventbus: dropping event for slow subscriber",
				zap.String("topic", string(topic)), zap.String("key", key))
		}
	}
}
