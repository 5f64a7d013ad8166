package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVehicleIDFromTopic(t *testing.T) {
	cases := []struct {
		topic string
		id    string
		ok    bool
	}{
		{"ems/vehicle/v1/location", "v1", true},
		{"ems/vehicle/amb-042/location", "amb-042", true},
		{"ems/vehicle//location", "", false},
		{"ems/vehicle/v1/status", "", false},
		{"other/vehicle/v1/location", "", false},
		{"ems/vehicle/v1", "", false},
	}
	for _, c := range cases {
		id, ok := vehicleIDFromTopic(c.topic)
		assert.Equal(t, c.ok, ok, c.topic)
		assert.Equal(t, c.id, id, c.topic)
	}
}
