// Licensed under the Apache License, Version 2.0
// Details: https://raw.githubusercontent.com/square/tokenbucket/master/LICENSE

// Package events carries notifications of bucket activity out of the
// registry's serving path. Emission never blocks; when nobody keeps up,
// events are dropped.
package events

import (
	"fmt"
	"time"

	"github.com/square/tokenbucket/logging"
)

type EventType int

const (
	EVENT_TOKENS_SERVED EventType = iota
	EVENT_TIMEOUT_SERVING_TOKENS
	EVENT_TOO_MANY_TOKENS_REQUESTED
	EVENT_BUCKET_MISS
	EVENT_BUCKET_CREATED
	EVENT_BUCKET_REMOVED
)

var eventNames = []string{
	EVENT_TOKENS_SERVED:             "EVENT_TOKENS_SERVED",
	EVENT_TIMEOUT_SERVING_TOKENS:    "EVENT_TIMEOUT_SERVING_TOKENS",
	EVENT_TOO_MANY_TOKENS_REQUESTED: "EVENT_TOO_MANY_TOKENS_REQUESTED",
	EVENT_BUCKET_MISS:               "EVENT_BUCKET_MISS",
	EVENT_BUCKET_CREATED:            "EVENT_BUCKET_CREATED",
	EVENT_BUCKET_REMOVED:            "EVENT_BUCKET_REMOVED"}

func (et EventType) String() string {
	if et < 0 || int(et) >= len(eventNames) {
		panic(fmt.Sprintf("Don't know event %d", et))
	}

	return eventNames[et]
}

type Event interface {
	EventType() EventType
	BucketName() string
	Dynamic() bool
	NumTokens() int64
	WaitTime() time.Duration
}

// EventProducer is a hook into the notification system, to inform listeners
// that certain events take place.
type EventProducer struct {
	c chan Event
}

// Emit queues an event for the listener. It never blocks; if the event
// buffer is full, the event is dropped.
func (e *EventProducer) Emit(event Event) {
	select {
	case e.c <- event:
	// OK
	default:
		logging.Println("Event buffer full; dropping event.")
	}
}

func (e *EventProducer) notifyListeners(l Listener) {
	for event := range e.c {
		l(event)
	}
}

// Listener is a function that consumes an Event.
type Listener func(details Event)

// RegisterListener takes a Listener and a buffer size and returns an
// EventProducer that consumes events and notifies the listener.
func RegisterListener(listener Listener, bufsize int) *EventProducer {
	if listener == nil {
		panic("Cannot register a nil listener")
	}

	ep := &EventProducer{make(chan Event, bufsize)}

	go ep.notifyListeners(listener)

	return ep
}

type namedEvent struct {
	eventType  EventType
	bucketName string
	dynamic    bool
}

func (n *namedEvent) String() string {
	return fmt.Sprintf("namedEvent{type: %v, name: %v, dynamic: %v, numTokens: %v, waitTime: %v}",
		n.eventType, n.bucketName, n.dynamic, 0, 0)
}

func (n *namedEvent) EventType() EventType {
	return n.eventType
}

func (n *namedEvent) BucketName() string {
	return n.bucketName
}

func (n *namedEvent) Dynamic() bool {
	return n.dynamic
}

func (n *namedEvent) NumTokens() int64 {
	return 0
}

func (n *namedEvent) WaitTime() time.Duration {
	return 0
}

type tokenEvent struct {
	*namedEvent
	numTokens int64
}

func (t *tokenEvent) String() string {
	return fmt.Sprintf("tokenEvent{type: %v, name: %v, dynamic: %v, numTokens: %v, waitTime: %v}",
		t.eventType, t.bucketName, t.dynamic, t.numTokens, 0)
}

func (t *tokenEvent) NumTokens() int64 {
	return t.numTokens
}

type tokenWaitEvent struct {
	*tokenEvent
	waitTime time.Duration
}

func (t *tokenWaitEvent) String() string {
	return fmt.Sprintf("tokenWaitEvent{type: %v, name: %v, dynamic: %v, numTokens: %v, waitTime: %v}",
		t.eventType, t.bucketName, t.dynamic, t.numTokens, t.waitTime)
}

func (t *tokenWaitEvent) WaitTime() time.Duration {
	return t.waitTime
}

// NewTokensServedEvent creates a new event with the type EVENT_TOKENS_SERVED
func NewTokensServedEvent(bucketName string, dynamic bool, numTokens int64, waitTime time.Duration) Event {
	return &tokenWaitEvent{
		tokenEvent: &tokenEvent{
			namedEvent: newNamedEvent(bucketName, dynamic, EVENT_TOKENS_SERVED),
			numTokens:  numTokens},
		waitTime: waitTime}
}

// NewTimedOutEvent creates a new event with the type EVENT_TIMEOUT_SERVING_TOKENS
func NewTimedOutEvent(bucketName string, dynamic bool, numTokens int64) Event {
	return &tokenEvent{
		namedEvent: newNamedEvent(bucketName, dynamic, EVENT_TIMEOUT_SERVING_TOKENS),
		numTokens:  numTokens}
}

// NewTooManyTokensRequestedEvent creates a new event with the type EVENT_TOO_MANY_TOKENS_REQUESTED
func NewTooManyTokensRequestedEvent(bucketName string, dynamic bool, numTokens int64) Event {
	return &tokenEvent{
		namedEvent: newNamedEvent(bucketName, dynamic, EVENT_TOO_MANY_TOKENS_REQUESTED),
		numTokens:  numTokens}
}

// NewBucketMissedEvent creates a new event with the type EVENT_BUCKET_MISS
func NewBucketMissedEvent(bucketName string, dynamic bool) Event {
	return newNamedEvent(bucketName, dynamic, EVENT_BUCKET_MISS)
}

// NewBucketCreatedEvent creates a new event with the type EVENT_BUCKET_CREATED
func NewBucketCreatedEvent(bucketName string, dynamic bool) Event {
	return newNamedEvent(bucketName, dynamic, EVENT_BUCKET_CREATED)
}

// NewBucketRemovedEvent creates a new event with the type EVENT_BUCKET_REMOVED
func NewBucketRemovedEvent(bucketName string, dynamic bool) Event {
	return newNamedEvent(bucketName, dynamic, EVENT_BUCKET_REMOVED)
}

func newNamedEvent(bucketName string, dynamic bool, eventType EventType) *namedEvent {
	return &namedEvent{
		eventType:  eventType,
		bucketName: bucketName,
		dynamic:    dynamic}
}
