// Package app wires the configuration into a running dispatch service.
package app

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/emsgo/dispatch/api"
	"github.com/emsgo/dispatch/config"
	"github.com/emsgo/dispatch/core/facility"
	"github.com/emsgo/dispatch/core/geofence"
	"github.com/emsgo/dispatch/core/lifecycle"
	"github.com/emsgo/dispatch/core/matcher"
	coremetrics "github.com/emsgo/dispatch/core/metrics"
	coremon "github.com/emsgo/dispatch/core/monitoring"
	"github.com/emsgo/dispatch/core/relay"
	corerouting "github.com/emsgo/dispatch/core/routing"
	"github.com/emsgo/dispatch/core/tracking"
	"github.com/emsgo/dispatch/infra/logger"
	"github.com/emsgo/dispatch/infra/metrics"
	"github.com/emsgo/dispatch/infra/monitoring"
	"github.com/emsgo/dispatch/infra/mqtt"
	"github.com/emsgo/dispatch/infra/routing"
	"github.com/emsgo/dispatch/infra/store"
	"github.com/emsgo/dispatch/infra/ws"
	"github.com/emsgo/dispatch/internal/topicbus"
)

// Service orchestrates the dispatch core and its transports.
type Service struct {
	Store     *store.MemoryStore
	Lifecycle *lifecycle.Service
	Tracking  *tracking.Service
	Relay     *relay.Relay

	archive  *store.Archive
	archiver *store.Archiver
	hub      *ws.Hub
	bridge   *mqtt.Bridge
	bus      *topicbus.Bus
	mon      coremon.Monitor
	log      logger.Logger

	httpAddr    string
	mux         *http.ServeMux
	promEnabled bool
	promPort    string
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logg := logger.New("service")

	mon, err := monitoring.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	coremon.Init(mon)

	bus := topicbus.New()
	rel, err := relay.New(bus, logger.New("relay"))
	if err != nil {
		return nil, err
	}

	st := store.NewMemoryStore()
	archive, err := store.NewArchive(cfg.Archive.Path)
	if err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}

	var sinks []coremetrics.Sink
	if cfg.Metrics.PrometheusEnabled {
		sink, err := metrics.NewPromSink(cfg.Metrics)
		if err != nil {
			return nil, fmt.Errorf("prom sink: %w", err)
		}
		sinks = append(sinks, sink)
	}
	if cfg.Metrics.InfluxEnabled {
		sink := metrics.NewInfluxSinkWithFallback(
			cfg.Metrics.InfluxURL, cfg.Metrics.InfluxToken, cfg.Metrics.InfluxOrg, cfg.Metrics.InfluxBucket)
		sinks = append(sinks, sink)
	}
	var sink coremetrics.Sink = coremetrics.NopSink{}
	if len(sinks) == 1 {
		sink = sinks[0]
	} else if len(sinks) > 1 {
		sink = metrics.NewMultiSink(sinks...)
	}

	estimator := corerouting.Estimator{
		Timeout: time.Duration(cfg.Routing.TimeoutSeconds) * time.Second,
	}
	switch cfg.Routing.Provider {
	case "osrm":
		estimator.Provider = routing.NewOSRMClient(cfg.Routing.BaseURL, estimator.Timeout)
	case "static":
		estimator.Provider = routing.StaticProvider{SpeedKmh: cfg.Routing.AverageSpeedKmh}
	}

	m := matcher.New(st, cfg.Matcher.Weights, estimator, logger.New("matcher"))
	lc, err := lifecycle.NewService(st, rel, m, sink, logger.New("lifecycle"))
	if err != nil {
		return nil, err
	}
	zones := geofence.NewZoneCache(st, time.Duration(cfg.Geofence.CacheTTLSeconds)*time.Second)
	tr, err := tracking.NewService(st, zones, rel, estimator, sink, logger.New("tracking"))
	if err != nil {
		return nil, err
	}
	fac, err := facility.NewService(st, rel, logger.New("facility"))
	if err != nil {
		return nil, err
	}

	hub := ws.NewHub(rel, logger.New("ws"))
	svc := &Service{
		Store:       st,
		Lifecycle:   lc,
		Tracking:    tr,
		Relay:       rel,
		archive:     archive,
		archiver:    store.NewArchiver(archive, rel, logger.New("archiver")),
		hub:         hub,
		bus:         bus,
		mon:         mon,
		log:         logg,
		httpAddr:    cfg.HTTP.Addr,
		promEnabled: cfg.Metrics.PrometheusEnabled,
		promPort:    cfg.Metrics.PrometheusPort,
	}
	svc.mux = api.NewMux(api.Deps{
		Lifecycle:  lc,
		Tracking:   tr,
		Matcher:    m,
		Facilities: fac,
		Archive:    archive,
		WS:         hub,
		Log:        logger.New("api"),
	})

	if cfg.MQTT.Enabled {
		var tlsConfig *tls.Config
		if cfg.MQTT.UseTLS {
			tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		client, err := mqtt.NewMqttClient(cfg.MQTT.Broker, cfg.MQTT.ClientID, tlsConfig, func(opts *pahomqtt.ClientOptions) {
			if cfg.MQTT.Username != "" {
				opts.SetUsername(cfg.MQTT.Username)
				opts.SetPassword(cfg.MQTT.Password)
			}
		})
		if err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		svc.bridge = mqtt.NewBridge(client, tr, logger.New("mqtt-bridge"))
	}
	return svc, nil
}

// Run starts the service and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	go s.archiver.Run(ctx)
	if s.bridge != nil {
		if err := s.bridge.Start(); err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
	}
	if s.promEnabled {
		go func() {
			defer coremon.Recover()
			if err := metrics.StartPromServer(ctx, s.promPort); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	srv := &http.Server{Addr: s.httpAddr, Handler: s.mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Errorf("http shutdown: %v", err)
		}
	}()
	s.log.Infof("dispatch service listening on %s", s.httpAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	if s.bridge != nil {
		s.bridge.Close()
	}
	s.hub.Close()
	s.bus.Close()
	s.mon.Flush(2 * time.Second)
	return s.archive.Close()
}
