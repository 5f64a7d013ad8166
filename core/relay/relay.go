// Package relay publishes domain events to the topic bus consumed by
// real-time clients. Delivery is best-effort and at-most-once per publish:
// there is no persistence or replay, and a publish failure never fails the
// operation that triggered it.
package relay

import (
	"fmt"
	"time"

	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/internal/topicbus"
)

// EventType names the kinds of events carried on the relay.
type EventType string

const (
	EventLocationUpdate        EventType = "location_update"
	EventDispatchStatusChanged EventType = "dispatch_status_changed"
	EventGeofence              EventType = "geofence_event"
	EventCapacityAlert         EventType = "capacity_alert"
)

// Topic scopes. Per-vehicle and per-facility topics are built with
// VehicleTopic and FacilityTopic.
const TopicDispatchCenter = "dispatch_center"

// VehicleTopic returns the topic scoped to one vehicle.
func VehicleTopic(vehicleID string) string { return "vehicle:" + vehicleID }

// FacilityTopic returns the topic scoped to one facility.
func FacilityTopic(facilityID string) string { return "facility:" + facilityID }

// Envelope wraps a payload with its event type and publish time.
type Envelope struct {
	Type    EventType `json:"type"`
	Topic   string    `json:"topic"`
	Time    time.Time `json:"time"`
	Payload any       `json:"payload"`
}

// Publisher is the interface the services publish through.
type Publisher interface {
	Publish(t EventType, payload any, topics ...string)
}

// Relay is the default Publisher backed by a topicbus.Bus.
type Relay struct {
	bus *topicbus.Bus
	log logger.Logger

	// OnDrop is called once per shed subscriber delivery. May be nil.
	OnDrop func(topic string)
}

// New creates a Relay. The bus must not be nil.
func New(bus *topicbus.Bus, log logger.Logger) (*Relay, error) {
	if bus == nil {
		return nil, fmt.Errorf("relay: nil bus")
	}
	r := &Relay{bus: bus, log: log}
	bus.Dropped = func(topic string) {
		if r.OnDrop != nil {
			r.OnDrop(topic)
		}
		if r.log != nil {
			r.log.Warnf("relay: subscriber saturated, dropped event on %s", topic)
		}
	}
	return r, nil
}

// Publish fans the payload out to every listed topic. It never blocks beyond
// the bus's non-blocking send and never returns an error.
func (r *Relay) Publish(t EventType, payload any, topics ...string) {
	now := time.Now().UTC()
	for _, topic := range topics {
		r.bus.Publish(topic, Envelope{Type: t, Topic: topic, Time: now, Payload: payload})
	}
}

// Subscribe registers a listener for the given topics.
func (r *Relay) Subscribe(topics ...string) <-chan topicbus.Message { return r.bus.Subscribe(topics...) }

// Unsubscribe removes a listener.
func (r *Relay) Unsubscribe(sub <-chan topicbus.Message) { r.bus.Unsubscribe(sub) }

// Nop is a Publisher that discards everything; used in tests and as a default.
type Nop struct{}

func (Nop) Publish(EventType, any, ...string) {}
