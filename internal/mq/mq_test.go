package mq

import (
	"strings"
	"testing"
)

type inbox struct {
	msgs []Message
}

func (i *inbox) OnMessage(msg Message) { i.msgs = append(i.msgs, msg) }

func TestTopicFanOut(t *testing.T) {
	t.Parallel()
	b := NewBroker()
	a, c, sender := &inbox{}, &inbox{}, &inbox{}
	b.Subscribe(a, "signals")
	b.Subscribe(c, "signals")

	b.Send(sender, "signals", "long BTC")

	if len(a.msgs) != 1 || len(c.msgs) != 1 {
		t.Fatalf("fan-out: a=%d c=%d, want 1 each", len(a.msgs), len(c.msgs))
	}
	if a.msgs[0].Topic != "signals" || a.msgs[0].Content != "long BTC" {
		t.Fatalf("message = %+v", a.msgs[0])
	}
	if !strings.HasPrefix(a.msgs[0].Sender, "mbx_") {
		t.Fatalf("sender address = %q, want a mailbox", a.msgs[0].Sender)
	}
}

func TestUnknownTopicDropsSilently(t *testing.T) {
	t.Parallel()
	b := NewBroker()
	sender := &inbox{}
	b.Send(sender, "nobody-listens", "hello") // must not panic, must not deliver
}

func TestDirectMessage(t *testing.T) {
	t.Parallel()
	b := NewBroker()
	a, sender := &inbox{}, &inbox{}
	addr := b.Mailbox(a)
	if addr != b.Mailbox(a) {
		t.Fatal("mailbox address not stable")
	}

	b.Send(sender, addr, "ping")
	if len(a.msgs) != 1 || a.msgs[0].Topic != "" || a.msgs[0].Content != "ping" {
		t.Fatalf("direct message = %+v", a.msgs)
	}

	// Reply through the sender address on the message.
	b.Send(a, a.msgs[0].Sender, "pong")
	if len(sender.msgs) != 1 || sender.msgs[0].Content != "pong" {
		t.Fatalf("reply = %+v", sender.msgs)
	}
}

func TestUnsubscribe(t *testing.T) {
	t.Parallel()
	b := NewBroker()
	a, sender := &inbox{}, &inbox{}
	b.Subscribe(a, "x")
	b.Unsubscribe(a, "x")
	b.Unsubscribe(a, "x") // idempotent
	b.Send(sender, "x", "gone")
	if len(a.msgs) != 0 {
		t.Fatal("unsubscribed listener received a message")
	}
}

func TestUnsubscribeAll(t *testing.T) {
	t.Parallel()
	b := NewBroker()
	a, sender := &inbox{}, &inbox{}
	b.Subscribe(a, "x")
	b.Subscribe(a, "y")
	addr := b.Mailbox(a)

	b.UnsubscribeAll(a)

	b.Send(sender, "x", "1")
	b.Send(sender, "y", "2")
	b.Send(sender, addr, "3") // retired mailbox drops too
	if len(a.msgs) != 0 {
		t.Fatalf("listener received %d messages after UnsubscribeAll", len(a.msgs))
	}
}
