// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
// Package pubsub provides a minimal typed event broadcaster used to
// notify UI collaborators of permission audit entries and agent
// definition hot-reload changes without coupling the core to a
// concrete transport.
package pubsub

import (
	"context"
	"sync"
)

// EventType classifies a pubsub event.
type EventType int

const (
	Created EventType = iota
	Updated
	Deleted
)

// Event wraps a payload with its event type.
type Event[T any] struct {
	Type    EventType
	Payload T
}

// Broker fans out events of one payload type to any number of
// subscribers. Each subscriber gets its own buffered channel; a slow
// subscriber drops events rather than blocking the publisher.
type Broker[T any] struct {
	mu          sync.Mutex
	subscribers map[chan Event[T]]struct{}
	bufferSize  int
}

// NewBroker creates a broker whose subscriber channels are buffered to
// bufferSize. A non-positive bufferSize defaults to 16.
func NewBroker[T any](bufferSize int) *Broker[T] {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broker[T]{
		subscribers: make(map[chan Event[T]]struct{}),
		bufferSize:  bufferSize,
	}
}

// Subscribe returns a channel of events that closes when ctx is done.
func (b *Broker[T]) Subscribe(ctx context.Context) <-chan Event[T] {
	ch := make(chan Event[T], b.bufferSize)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subscribers, ch)
		b.mu.Unlock()
		close(ch)
	}()

	return ch
}

// Publish broadcasts an event to all live subscribers. Subscribers
// whose buffer is full miss the event; publish never blocks.
func (b *Broker[T]) Publish(evt Event[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
		}
	}
}

// PublishCreated is a convenience wrapper for Publish(Event{Type: Created}).
func (b *Broker[T]) PublishCreated(payload T) { b.Publish(Event[T]{Type: Created, Payload: payload}) }

// PublishUpdated is a convenience wrapper for Publish(Event{Type: Updated}).
func (b *Broker[T]) PublishUpdated(payload T) { b.Publish(Event[T]{Type: Updated, Payload: payload}) }

// PublishDeleted is a convenience wrapper for Publish(Event{Type: Deleted}).
func (b *Broker[T]) PublishDeleted(payload T) { b.Publish(Event[T]{Type: Deleted, Payload: payload}) }

// SubscriberCount reports the number of currently live subscribers.
// Exposed mainly for tests.
func (b *Broker[T]) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}
