package mqtt

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/emsgo/dispatch/core/logger"
	"github.com/emsgo/dispatch/core/tracking"
)

// locationTopicFilter matches every vehicle's location topic.
const locationTopicFilter = "ems/vehicle/+/location"

// LocationMessage is the JSON payload a GPS unit publishes.
type LocationMessage struct {
	Lat        float64   `json:"lat"`
	Lon        float64   `json:"lon"`
	SpeedKmh   float64   `json:"speed_kmh"`
	HeadingDeg float64   `json:"heading_deg"`
	AccuracyM  float64   `json:"accuracy_m"`
	Timestamp  time.Time `json:"timestamp"`
}

// Bridge subscribes to vehicle location topics and forwards fixes to the
// tracking service.
type Bridge struct {
	client  *MqttClient
	ingest  *tracking.Service
	log     logger.Logger
	timeout time.Duration
}

// NewBridge creates a Bridge over a connected client.
func NewBridge(client *MqttClient, ingest *tracking.Service, log logger.Logger) *Bridge {
	return &Bridge{client: client, ingest: ingest, log: log, timeout: 5 * time.Second}
}

// Start subscribes to the location topic filter at QoS 1.
func (b *Bridge) Start() error {
	return b.client.Subscribe(locationTopicFilter, 1, b.handle)
}

// Close disconnects the underlying client.
func (b *Bridge) Close() { b.client.Close() }

func (b *Bridge) handle(_ pahomqtt.Client, msg pahomqtt.Message) {
	vehicleID, ok := vehicleIDFromTopic(msg.Topic())
	if !ok {
		if b.log != nil {
			b.log.Warnf("mqtt: unexpected topic %s", msg.Topic())
		}
		return
	}
	var m LocationMessage
	if err := json.Unmarshal(msg.Payload(), &m); err != nil {
		if b.log != nil {
			b.log.Errorf("mqtt: invalid location payload on %s: %v", msg.Topic(), err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	res, err := b.ingest.Ingest(ctx, tracking.SampleInput{
		VehicleID:  vehicleID,
		Lat:        m.Lat,
		Lon:        m.Lon,
		SpeedKmh:   m.SpeedKmh,
		HeadingDeg: m.HeadingDeg,
		AccuracyM:  m.AccuracyM,
		Timestamp:  m.Timestamp,
	})
	if err != nil {
		if b.log != nil {
			b.log.Errorf("mqtt: ingest for vehicle %s failed: %v", vehicleID, err)
		}
		return
	}
	if res.Stale && b.log != nil {
		b.log.Debugf("mqtt: stale fix from vehicle %s dropped", vehicleID)
	}
}

// vehicleIDFromTopic extracts the vehicle ID from ems/vehicle/<id>/location.
func vehicleIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, "/")
	if len(parts) != 4 || parts[0] != "ems" || parts[1] != "vehicle" || parts[3] != "location" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}
