package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/emsgo/dispatch/config"
	"github.com/emsgo/dispatch/infra/mqtt"
)

var (
	trackVehicleID string
	trackLat       float64
	trackLon       float64
	trackSpeed     float64
)

var trackCmd = &cobra.Command{
	Use:   "track",
	Short: "Publish a test location fix over MQTT",
	RunE:  publishFix,
}

func init() {
	trackCmd.Flags().StringVar(&trackVehicleID, "vehicle", "test", "vehicle ID")
	trackCmd.Flags().Float64Var(&trackLat, "lat", 0, "latitude")
	trackCmd.Flags().Float64Var(&trackLon, "lon", 0, "longitude")
	trackCmd.Flags().Float64Var(&trackSpeed, "speed", 0, "speed in km/h")
	rootCmd.AddCommand(trackCmd)
}

func publishFix(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker not configured")
	}

	clientID := fmt.Sprintf("track-%d", time.Now().UnixNano())
	client, err := mqtt.NewMqttClient(cfg.MQTT.Broker, clientID, nil, nil)
	if err != nil {
		return fmt.Errorf("mqtt client: %w", err)
	}
	defer client.Close()

	payload, err := json.Marshal(mqtt.LocationMessage{
		Lat:       trackLat,
		Lon:       trackLon,
		SpeedKmh:  trackSpeed,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	topic := fmt.Sprintf("ems/vehicle/%s/location", trackVehicleID)
	if err := client.Publish(topic, payload, 1); err != nil {
		return fmt.Errorf("publish: %w", err)
	}
	fmt.Printf("published fix for %s on %s\n", trackVehicleID, topic)
	return nil
}
