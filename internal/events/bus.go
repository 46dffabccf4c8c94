package events

import (
	"sync"
	"time"

	"trading-control-plane/internal/tuning"
)

// EventType represents different types of control-plane events
type EventType string

const (
	EventParameterAdjusted  EventType = "PARAMETER_ADJUSTED"
	EventAdjustmentRejected EventType = "ADJUSTMENT_REJECTED"
	EventRollbackCompleted  EventType = "ROLLBACK_COMPLETED"
	EventSnapshotTaken      EventType = "SNAPSHOT_TAKEN"
)

// Event represents one control-plane event
type Event struct {
	Type      EventType              `json:"type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Subscriber is a function that handles events
type Subscriber func(Event)

// EventBus manages event publishing and subscriptions
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]Subscriber
	allSubs     []Subscriber
}

// NewEventBus creates a new event bus
func NewEventBus() *EventBus {
	return &EventBus{
		subscribers: make(map[EventType][]Subscriber),
	}
}

// Subscribe registers a subscriber for a specific event type
func (eb *EventBus) Subscribe(eventType EventType, subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.subscribers[eventType] = append(eb.subscribers[eventType], subscriber)
}

// SubscribeAll registers a subscriber for all events
func (eb *EventBus) SubscribeAll(subscriber Subscriber) {
	eb.mu.Lock()
	defer eb.mu.Unlock()
	eb.allSubs = append(eb.allSubs, subscriber)
}

// Publish sends an event to all subscribers without blocking the caller
func (eb *EventBus) Publish(event Event) {
	eb.mu.RLock()
	defer eb.mu.RUnlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	if subs, ok := eb.subscribers[event.Type]; ok {
		for _, sub := range subs {
			go sub(event)
		}
	}
	for _, sub := range eb.allSubs {
		go sub(event)
	}
}

// BusNotifier adapts the event bus to the orchestrator's Notifier
// contract.
type BusNotifier struct {
	bus *EventBus
}

// NewBusNotifier wraps bus as a tuning.Notifier.
func NewBusNotifier(bus *EventBus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// AdjustmentApplied publishes a parameter adjusted event.
func (n *BusNotifier) AdjustmentApplied(entry tuning.AuditEntry) {
	n.bus.Publish(Event{
		Type: EventParameterAdjusted,
		Data: map[string]interface{}{
			"audit_id":    entry.ID,
			"parameter":   entry.ParameterKey,
			"tier":        string(entry.Tier),
			"old_value":   entry.OldValue,
			"new_value":   entry.NewValue,
			"source":      string(entry.Source),
			"snapshot_id": entry.SnapshotID,
		},
	})
}

// AdjustmentRejected publishes a rejection event.
func (n *BusNotifier) AdjustmentRejected(parameterKey string, code tuning.ErrorCode) {
	n.bus.Publish(Event{
		Type: EventAdjustmentRejected,
		Data: map[string]interface{}{
			"parameter": parameterKey,
			"code":      string(code),
		},
	})
}

// RollbackCompleted publishes a rollback event linking both snapshots.
func (n *BusNotifier) RollbackCompleted(restoredSnapshotID, preRollbackSnapshotID string) {
	n.bus.Publish(Event{
		Type: EventRollbackCompleted,
		Data: map[string]interface{}{
			"restored_snapshot_id":     restoredSnapshotID,
			"pre_rollback_snapshot_id": preRollbackSnapshotID,
		},
	})
}
