package eventbus

import "testing"

func TestPublishSubscribeOrdering(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe(Trades, "BTC/USDC")
	defer cancel()

	b.Publish(Trades, "BTC/USDC", "first")
	b.Publish(Trades, "BTC/USDC", "second")
	b.Publish(Trades, "BTC/USDC", "third")

	for i, want := range []string{"first", "second", "third"} {
		evt := <-ch
		if evt.Payload != want {
			t.Fatalf("event %d payload = %v, want %q", i, evt.Payload, want)
		}
		if evt.Sequence != uint64(i+1) {
			t.Fatalf("event %d sequence = %d, want %d", i, evt.Sequence, i+1)
		}
	}
}

func TestSubscribersAreIsolatedByKey(t *testing.T) {
	b := New(nil)
	btc, cancelBTC := b.Subscribe(Orderbook, "BTC/USDC")
	defer cancelBTC()
	eth, cancelETH := b.Subscribe(Orderbook, "ETH/USDC")
	defer cancelETH()

	b.Publish(Orderbook, "BTC/USDC", "btc-delta")

	select {
	case evt := <-btc:
		if evt.Payload != "btc-delta" {
			t.Fatalf("unexpected payload on btc channel: %v", evt.Payload)
		}
	default:
		t.Fatal("expected an event on the btc subscriber")
	}

	select {
	case evt := <-eth:
		t.Fatalf("unexpected event delivered to unrelated key subscriber: %v", evt)
	default:
	}
}

func TestPublishWithNoSubscribersDoesNotBlock(t *testing.T) {
	b := New(nil)
	b.Publish(Trades, "BTC/USDC", "nobody listening")
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe(UserFills, "alice")
	defer cancel()

	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish(UserFills, "alice", i)
	}

	// The channel holds at most subscriberBuffer events; draining should
	// never yield more than that without the publisher ever blocking.
	drained := 0
	for {
		select {
		case <-ch:
			drained++
		default:
			if drained > subscriberBuffer {
				t.Fatalf("drained %d events, exceeds buffer size %d", drained, subscriberBuffer)
			}
			return
		}
	}
}

func TestCancelClosesChannelAndStopsDelivery(t *testing.T) {
	b := New(nil)
	ch, cancel := b.Subscribe(UserOrders, "bob")
	cancel()

	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after cancel")
	}

	// Publishing after cancel must not panic even though the subscriber
	// list no longer contains this channel.
	b.Publish(UserOrders, "bob", "ignored")
}
