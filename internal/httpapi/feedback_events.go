package httpapi

import (
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/feedbackwidget/internal/model"
)

const (
	// FeedbackEventCreated names the SSE event sent for each stored submission.
	FeedbackEventCreated = "feedback_created"

	feedbackEventDefaultBuffer = 16
)

// FeedbackEvent announces a stored submission to triage listeners.
type FeedbackEvent struct {
	FeedbackID    string    `json:"feedback_id"`
	Source        string    `json:"source"`
	Type          string    `json:"type"`
	Mode          string    `json:"mode,omitempty"`
	HasScreenshot bool      `json:"has_screenshot"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewFeedbackEvent summarises a stored feedback record.
func NewFeedbackEvent(feedback model.Feedback) FeedbackEvent {
	createdAt := feedback.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return FeedbackEvent{
		FeedbackID:    feedback.ID,
		Source:        feedback.Source,
		Type:          feedback.Type,
		Mode:          feedback.Mode,
		HasScreenshot: feedback.HasScreenshot(),
		CreatedAt:     createdAt.UTC(),
	}
}

// FeedbackEventBroadcaster fans feedback events out to SSE subscribers. A slow
// subscriber loses its oldest buffered event rather than blocking intake.
type FeedbackEventBroadcaster struct {
	mutex        sync.Mutex
	nextID       uint64
	subscribers  map[uint64]chan FeedbackEvent
	closed       bool
	bufferLength int
}

func NewFeedbackEventBroadcaster() *FeedbackEventBroadcaster {
	return &FeedbackEventBroadcaster{
		subscribers:  make(map[uint64]chan FeedbackEvent),
		bufferLength: feedbackEventDefaultBuffer,
	}
}

// Subscribe returns nil once the broadcaster is closed.
func (broadcaster *FeedbackEventBroadcaster) Subscribe() *FeedbackEventSubscription {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return nil
	}
	identifier := broadcaster.nextID
	broadcaster.nextID++
	events := make(chan FeedbackEvent, broadcaster.bufferLength)
	broadcaster.subscribers[identifier] = events
	return &FeedbackEventSubscription{broadcaster: broadcaster, identifier: identifier, events: events}
}

func (broadcaster *FeedbackEventBroadcaster) Broadcast(event FeedbackEvent) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	for _, events := range broadcaster.subscribers {
		deliverDroppingOldest(events, event)
	}
}

// Subscribers reports the number of open subscriptions.
func (broadcaster *FeedbackEventBroadcaster) Subscribers() int {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	return len(broadcaster.subscribers)
}

// Close ends every subscription. Later Subscribe calls return nil.
func (broadcaster *FeedbackEventBroadcaster) Close() {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if broadcaster.closed {
		return
	}
	broadcaster.closed = true
	for identifier, events := range broadcaster.subscribers {
		close(events)
		delete(broadcaster.subscribers, identifier)
	}
}

func (broadcaster *FeedbackEventBroadcaster) unsubscribe(identifier uint64) {
	broadcaster.mutex.Lock()
	defer broadcaster.mutex.Unlock()
	if events, found := broadcaster.subscribers[identifier]; found {
		delete(broadcaster.subscribers, identifier)
		close(events)
	}
}

// deliverDroppingOldest must be called with the broadcaster mutex held.
func deliverDroppingOldest(events chan FeedbackEvent, event FeedbackEvent) {
	for {
		select {
		case events <- event:
			return
		default:
		}
		select {
		case <-events:
		default:
		}
	}
}

type FeedbackEventSubscription struct {
	broadcaster *FeedbackEventBroadcaster
	identifier  uint64
	events      chan FeedbackEvent
	once        sync.Once
}

func (subscription *FeedbackEventSubscription) Events() <-chan FeedbackEvent {
	if subscription == nil {
		return nil
	}
	return subscription.events
}

func (subscription *FeedbackEventSubscription) Close() {
	if subscription == nil {
		return
	}
	subscription.once.Do(func() {
		subscription.broadcaster.unsubscribe(subscription.identifier)
	})
}
