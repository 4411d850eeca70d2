// Package mq is the in-process message broker strategies use to talk to
// each other: named topics with fan-out, plus direct messages to generated
// mailbox addresses.
package mq

import (
	"sync"

	"github.com/google/uuid"
)

// Message is one delivered payload. Topic is empty for direct (mailbox)
// messages; Sender is always a mailbox address usable for a reply.
type Message struct {
	Sender  string
	Topic   string
	Content string
}

// Listener consumes messages. OnMessage is called under the broker lock and
// must not block or call back into the broker. Listeners are tracked by
// identity, so implementations must be comparable (use a pointer receiver).
type Listener interface {
	OnMessage(msg Message)
}

// Broker routes messages between listeners. Sends to a topic nobody
// subscribed — and to unknown mailboxes — are dropped silently.
type Broker struct {
	mu        sync.Mutex
	topics    map[string][]Listener
	byTopic   map[Listener][]string
	mailboxes map[string]Listener
	addresses map[Listener]string
}

// NewBroker creates an empty broker.
func NewBroker() *Broker {
	return &Broker{
		topics:    make(map[string][]Listener),
		byTopic:   make(map[Listener][]string),
		mailboxes: make(map[string]Listener),
		addresses: make(map[Listener]string),
	}
}

// Subscribe adds the listener to a topic.
func (b *Broker) Subscribe(l Listener, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[topic] = append(b.topics[topic], l)
	b.byTopic[l] = append(b.byTopic[l], topic)
}

// Unsubscribe removes the listener from one topic. Idempotent.
func (b *Broker) Unsubscribe(l Listener, topic string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeFromTopic(l, topic)
	subs := b.byTopic[l]
	for i, t := range subs {
		if t == topic {
			b.byTopic[l] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.byTopic[l]) == 0 {
		delete(b.byTopic, l)
	}
}

// UnsubscribeAll removes the listener from every topic and retires its
// mailbox.
func (b *Broker) UnsubscribeAll(l Listener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if addr, ok := b.addresses[l]; ok {
		delete(b.mailboxes, addr)
		delete(b.addresses, l)
	}
	for _, topic := range b.byTopic[l] {
		b.removeFromTopic(l, topic)
	}
	delete(b.byTopic, l)
}

// Mailbox returns the listener's direct address, creating it on first use.
func (b *Broker) Mailbox(l Listener) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.mailboxLocked(l)
}

func (b *Broker) mailboxLocked(l Listener) string {
	if addr, ok := b.addresses[l]; ok {
		return addr
	}
	addr := "mbx_" + uuid.NewString()
	b.addresses[l] = addr
	b.mailboxes[addr] = l
	return addr
}

// Send delivers content to a channel: a mailbox address reaches exactly its
// owner, a topic fans out to all subscribers, anything else is dropped.
// The sender gets a mailbox so receivers can answer.
func (b *Broker) Send(from Listener, channel, content string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sender := b.mailboxLocked(from)

	if l, ok := b.mailboxes[channel]; ok {
		l.OnMessage(Message{Sender: sender, Content: content})
		return
	}
	for _, l := range b.topics[channel] {
		l.OnMessage(Message{Sender: sender, Topic: channel, Content: content})
	}
}

func (b *Broker) removeFromTopic(l Listener, topic string) {
	subs := b.topics[topic]
	out := subs[:0]
	for _, s := range subs {
		if s != l {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		delete(b.topics, topic)
	} else {
		b.topics[topic] = out
	}
}
