package main

import "sync"

// BroadcastChatMessage is fanned out to every connected chat widget whenever a
// message is written (or someone is typing). Subscribers filter by session id.
type BroadcastChatMessage struct {
	event string // new_message or typing
	data  ChatMessages
}

type subscription struct {
	ch   chan BroadcastChatMessage
	done chan struct{}
}

type EventPublisher struct {
	mutex         sync.Mutex
	subscriptions map[<-chan BroadcastChatMessage]*subscription
}

var BroadcastPublisher = NewEventPublisher()

func NewEventPublisher() *EventPublisher {
	return &EventPublisher{
		mutex:         sync.Mutex{},
		subscriptions: make(map[<-chan BroadcastChatMessage]*subscription),
	}
}

func (ep *EventPublisher) Subscribe() <-chan BroadcastChatMessage {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	sub := &subscription{
		ch:   make(chan BroadcastChatMessage),
		done: make(chan struct{}),
	}
	ep.subscriptions[sub.ch] = sub
	return sub.ch
}

// Unsubscribe removes the subscription and releases any in-flight sends via
// the done channel. The message channel itself is never closed, so a publish
// racing an unsubscribe can never hit a closed channel.
func (ep *EventPublisher) Unsubscribe(subscriber <-chan BroadcastChatMessage) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	if sub, ok := ep.subscriptions[subscriber]; ok {
		delete(ep.subscriptions, subscriber)
		close(sub.done)
	}
}

func (ep *EventPublisher) Publish(data BroadcastChatMessage) {
	ep.mutex.Lock()
	defer ep.mutex.Unlock()

	for _, sub := range ep.subscriptions {
		go func(sub *subscription) {
			select {
			case sub.ch <- data:
			case <-sub.done:
			}
		}(sub)
	}
}
