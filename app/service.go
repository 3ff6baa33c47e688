// Package app wires configuration into a running fleet service.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/wastefleet/api"
	"github.com/kilianp07/wastefleet/config"
	"github.com/kilianp07/wastefleet/core/bucket"
	"github.com/kilianp07/wastefleet/core/dispatch"
	"github.com/kilianp07/wastefleet/core/dispatch/audit"
	"github.com/kilianp07/wastefleet/core/events"
	"github.com/kilianp07/wastefleet/core/fleet"
	coremetrics "github.com/kilianp07/wastefleet/core/metrics"
	"github.com/kilianp07/wastefleet/core/monitoring"
	"github.com/kilianp07/wastefleet/core/store"
	"github.com/kilianp07/wastefleet/core/technician"
	"github.com/kilianp07/wastefleet/infra/docstore"
	"github.com/kilianp07/wastefleet/infra/logger"
	inframetrics "github.com/kilianp07/wastefleet/infra/metrics"
	inframon "github.com/kilianp07/wastefleet/infra/monitoring"
	"github.com/kilianp07/wastefleet/infra/mqtt"
	"github.com/kilianp07/wastefleet/internal/eventbus"
	"github.com/kilianp07/wastefleet/jobs/sweep"
)

// Service owns every long-lived component of the fleet process.
type Service struct {
	Buckets     *bucket.Service
	Coordinator *dispatch.Coordinator
	Technicians *technician.Manager
	Fleet       *fleet.Service

	cfg       *config.Config
	log       logger.Logger
	store     store.Store
	bus       *eventbus.TypedBus[events.Event]
	sink      coremetrics.MetricsSink
	auditLog  audit.Store
	mqtt      *mqtt.PahoClient
	listener  *mqtt.SensorListener
	sweeper   *sweep.Sweeper
	collector *inframetrics.EventCollector
	handler   http.Handler

	closeOnce sync.Once
}

// New creates a Service from the configuration. Nothing runs until Run.
func New(cfg *config.Config) (svc *Service, err error) {
	logger.SetLevel(cfg.Logging.Level)
	s := &Service{cfg: cfg, log: logger.New("service"), auditLog: audit.Nop{}, sink: coremetrics.NopSink{}}
	defer func() {
		if err != nil {
			_ = s.Close()
		}
	}()

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	if s.store, err = docstore.Open(cfg.Store); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	s.bus = eventbus.NewTyped[events.Event]()
	if s.sink, err = inframetrics.BuildSink(cfg.Metrics); err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}
	if cfg.Dispatch.AuditPath != "" {
		if s.auditLog, err = audit.NewJSONLStore(cfg.Dispatch.AuditPath, cfg.Dispatch.AuditRotate); err != nil {
			return nil, fmt.Errorf("audit log: %w", err)
		}
	}

	var drivers dispatch.DriverDirectory = dispatch.StaticDirectory(cfg.Dispatch.Drivers)
	var notifier dispatch.Notifier = dispatch.NopNotifier{}
	if cfg.MQTT.Enabled {
		if s.mqtt, err = mqtt.NewPahoClient(cfg.MQTT, logger.New("mqtt")); err != nil {
			return nil, fmt.Errorf("mqtt client: %w", err)
		}
		var presence *mqtt.PresenceDirectory
		if presence, err = mqtt.NewPresenceDirectory(s.mqtt, logger.New("presence")); err != nil {
			return nil, fmt.Errorf("driver presence: %w", err)
		}
		if len(cfg.Dispatch.Drivers) > 0 {
			drivers = dispatch.MergedDirectory{presence, drivers}
		} else {
			drivers = presence
		}
		if notifier, err = mqtt.NewDriverNotifier(s.mqtt); err != nil {
			return nil, fmt.Errorf("driver notifier: %w", err)
		}
	}

	selector, err := dispatch.NewSelector(cfg.Dispatch.Selector)
	if err != nil {
		return nil, err
	}
	if s.Coordinator, err = dispatch.NewCoordinator(s.store, drivers, selector, cfg.Dispatch, logger.New("dispatch")); err != nil {
		return nil, err
	}
	s.Coordinator.SetNotifier(notifier)
	s.Coordinator.SetMetricsSink(s.sink)
	s.Coordinator.SetEventBus(s.bus)
	s.Coordinator.SetAuditLog(s.auditLog)

	if s.Buckets, err = bucket.NewService(s.store, s.Coordinator, cfg.Dispatch.MaxRetries, logger.New("bucket")); err != nil {
		return nil, err
	}
	s.Buckets.SetMetricsSink(s.sink)
	s.Buckets.SetEventBus(s.bus)

	if s.Technicians, err = technician.NewManager(s.store, logger.New("technician")); err != nil {
		return nil, err
	}
	s.Technicians.SetMetricsSink(s.sink)
	s.Technicians.SetEventBus(s.bus)

	if s.Fleet, err = fleet.NewService(s.store); err != nil {
		return nil, err
	}

	if s.mqtt != nil {
		if s.listener, err = mqtt.NewSensorListener(s.mqtt, s.Buckets, cfg.MQTT.HandlerTimeout, logger.New("sensors")); err != nil {
			return nil, err
		}
	}
	if !strings.EqualFold(cfg.Jobs.SweepSchedule, "off") {
		if s.sweeper, err = sweep.New(s.store, s.Coordinator, logger.New("sweep")); err != nil {
			return nil, err
		}
	}
	if s.collector, err = inframetrics.NewEventCollector(prometheus.DefaultRegisterer, s.bus, logger.New("events")); err != nil {
		return nil, err
	}

	s.handler, err = api.NewHandler(api.Services{
		Buckets:     s.Buckets,
		Collections: s.Coordinator,
		Technicians: s.Technicians,
		Fleet:       s.Fleet,
	}, api.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		Ready:          s.ready,
		Logger:         logger.New("api"),
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the HTTP API handler.
func (s *Service) Handler() http.Handler { return s.handler }

func (s *Service) ready(ctx context.Context) error {
	if _, _, err := s.store.FindBucketByCode(ctx, "000000"); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	return nil
}

// Run starts the background components and the HTTP server, and blocks
// until ctx is cancelled or the server fails.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Coordinator.SyncGauge(ctx); err != nil {
		s.log.Warnf("sync assigned gauge: %v", err)
	}
	s.collector.Start(ctx, s.bus)
	if s.listener != nil {
		if err := s.listener.Start(); err != nil {
			return fmt.Errorf("sensor listener: %w", err)
		}
	}
	var sweepDone <-chan struct{}
	if s.sweeper != nil {
		done, err := s.sweeper.Start(ctx, s.cfg.Jobs.SweepSchedule)
		if err != nil {
			return err
		}
		sweepDone = done
	}

	srv := &http.Server{
		Addr:         s.cfg.HTTP.Addr,
		Handler:      s.handler,
		ReadTimeout:  s.cfg.HTTP.ReadTimeout,
		WriteTimeout: s.cfg.HTTP.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP API listening on %s", s.cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Errorf("http shutdown: %v", err)
	}
	if sweepDone != nil && ctx.Err() != nil {
		<-sweepDone
	}
	return runErr
}

// Close releases resources held by the service.
func (s *Service) Close() error {
	var err error
	s.closeOnce.Do(func() {
		if s.mqtt != nil {
			s.mqtt.Disconnect()
		}
		if s.bus != nil {
			s.bus.Close()
		}
		if c, ok := s.sink.(interface{ Close() }); ok {
			c.Close()
		}
		if s.auditLog != nil {
			err = errors.Join(err, s.auditLog.Close())
		}
		if s.store != nil {
			err = errors.Join(err, s.store.Close())
		}
		monitoring.Flush(2 * time.Second)
	})
	return err
}
