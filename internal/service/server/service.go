package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/oshokin/guardian-engine/internal/api/http/alerts"
	"github.com/oshokin/guardian-engine/internal/audit"
	"github.com/oshokin/guardian-engine/internal/config"
	"github.com/oshokin/guardian-engine/internal/domain/alert"
	"github.com/oshokin/guardian-engine/internal/logger"
	"github.com/oshokin/guardian-engine/internal/repository/session"
	"github.com/oshokin/guardian-engine/internal/service/dispatch"
	"github.com/oshokin/guardian-engine/internal/service/engine"
	"github.com/oshokin/guardian-engine/internal/service/escalation"
	"github.com/oshokin/guardian-engine/internal/service/location"
	"github.com/oshokin/guardian-engine/internal/service/notifier"
	"github.com/oshokin/guardian-engine/internal/service/trigger"
)

// service bundles the engine with everything it needs torn down on exit.
type service struct {
	// engine is the session lifecycle orchestrator.
	engine *engine.Engine
	// api is the HTTP transport over the engine.
	api *alerts.Server
	// pgStore is non-nil when the postgres backend is in use.
	pgStore *session.PostgresStore
	// kafkaSink is non-nil when audit records go to kafka.
	kafkaSink *audit.KafkaSink
}

// staticDirectory serves the configured contact list to every user.
// A per-user external directory replaces this once one exists.
type staticDirectory struct {
	// contacts is the configured list, converted once at startup.
	contacts []alert.EmergencyContact
}

// Contacts returns the configured contact list.
func (d *staticDirectory) Contacts(_ context.Context, _ string) ([]alert.EmergencyContact, error) {
	return append([]alert.EmergencyContact(nil), d.contacts...), nil
}

// newDirectory converts the configured contacts into a directory.
func newDirectory(contacts []config.Contact) *staticDirectory {
	converted := make([]alert.EmergencyContact, 0, len(contacts))
	for _, c := range contacts {
		converted = append(converted, alert.EmergencyContact{
			ID:           c.ID,
			DisplayName:  c.DisplayName,
			PhoneNumber:  c.PhoneNumber,
			Relationship: c.Relationship,
			Verified:     c.Verified,
		})
	}

	return &staticDirectory{contacts: converted}
}

// newService wires the store, the audit sink and the engine from settings.
func newService(ctx context.Context, settings *config.Config) (*service, error) {
	svc := &service{}

	store, err := svc.openStore(ctx, settings)
	if err != nil {
		return nil, err
	}

	sink := svc.openSink(ctx, settings)
	positions := location.NewCache(location.DefaultStaleness)
	normalizer := trigger.NewNormalizer(settings.ButtonPressWindow, settings.MinVoiceConfidence)

	caller := svc.newCaller(settings)

	svc.engine = engine.New(
		store,
		sink,
		newDirectory(settings.Contacts),
		notifier.New(store, notifier.LogSender{}, sink, notifier.Config{
			BackoffBase: settings.RetryBackoffBase,
			MaxAttempts: settings.MaxAttemptsPerChannel,
		}),
		location.NewFeed(store, positions, sink, settings.LocationInterval),
		escalation.New(store, caller, sink, settings.FallbackCeiling),
		caller,
		engine.Config{
			ButtonGrace:       settings.ButtonGracePeriod,
			VoiceGrace:        settings.VoiceGracePeriod,
			DispatchOnConfirm: settings.DispatchOnConfirm,
		},
	)

	svc.api = alerts.NewServer(svc.engine, normalizer, positions)

	return svc, nil
}

// Handler returns the HTTP handler serving the engine API.
func (s *service) Handler() http.Handler {
	return s.api.Router()
}

// Close tears down the engine's workers and external connections.
func (s *service) Close(ctx context.Context) {
	s.engine.Close()

	if s.kafkaSink != nil {
		if err := s.kafkaSink.Close(); err != nil {
			logger.ErrorKV(ctx, "Failed to close kafka sink", "error", err)
		}
	}

	if s.pgStore != nil {
		s.pgStore.Close()
	}
}

// openStore selects the session store backend from settings.
func (s *service) openStore(ctx context.Context, settings *config.Config) (session.Store, error) {
	switch settings.StoreBackend {
	case config.StorePostgres:
		pgStore, err := session.Open(ctx, settings.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}

		s.pgStore = pgStore

		return pgStore, nil
	case config.StoreFile:
		fileStore, err := session.NewFileStore(settings.SessionFile)
		if err != nil {
			return nil, fmt.Errorf("open file store: %w", err)
		}

		return fileStore, nil
	default:
		return session.NewMemoryStore(), nil
	}
}

// openSink selects the audit sink: kafka when brokers are configured,
// structured logs otherwise.
func (s *service) openSink(ctx context.Context, settings *config.Config) audit.Sink {
	if len(settings.KafkaBrokers) == 0 {
		return audit.NewLogSink()
	}

	logger.InfoKV(ctx, "Audit records go to kafka",
		"brokers", settings.KafkaBrokers, "topic", settings.AuditTopic)

	s.kafkaSink = audit.NewKafkaSink(settings.KafkaBrokers, settings.AuditTopic)

	return s.kafkaSink
}

// newCaller selects the dispatch caller: HTTP when a URL is configured,
// the logging stand-in otherwise.
func (s *service) newCaller(settings *config.Config) dispatch.Caller {
	if settings.DispatchURL == "" {
		return dispatch.LogCaller{}
	}

	return dispatch.NewHTTPCaller(settings.DispatchURL)
}
