package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/malbeclabs/huntql/internal/config"
	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/events"
	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/pipeline"
	"github.com/malbeclabs/huntql/pkg/schema"
	"github.com/malbeclabs/huntql/pkg/service"
	"github.com/malbeclabs/huntql/pkg/store"
)

// Replaced in tests.
var (
	newLLMClient = llm.New
	lookupEnv    = os.LookupEnv
)

// app holds the components built from config for one command invocation.
type app struct {
	log      *slog.Logger
	cfg      *config.Config
	registry *schema.Registry
	checker  checker.Checker

	store     *store.SQLite
	kafka     *events.Kafka
	publisher *events.Publisher
	service   *service.Service
}

// loadApp reads the global flags and config and builds the components every
// command needs: the logger, the source registry and the checker.
func loadApp(cmd *cobra.Command) (*app, error) {
	return loadAppFlags(cmd.Root().PersistentFlags())
}

func loadAppFlags(flags *pflag.FlagSet) (*app, error) {
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return nil, fmt.Errorf("failed to get verbose flag: %w", err)
	}
	path, err := flags.GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if v, _ := flags.GetString("provider"); v != "" {
		cfg.SetProvider(v, lookupEnv)
	}
	if v, _ := flags.GetString("model"); v != "" {
		cfg.LLM.Model = v
	}
	if flags.Changed("max-retries") {
		v, _ := flags.GetInt("max-retries")
		cfg.Pipeline.MaxRetries = &v
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	log := newLogger(verbose)

	registry, err := schema.Default()
	if cfg.Schema.File != "" {
		registry, err = schema.LoadFile(cfg.Schema.File)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load source registry: %w", err)
	}

	var chk checker.Checker
	switch cfg.Checker.Mode {
	case config.CheckerRemote:
		chk, err = checker.NewRemote(checker.RemoteConfig{
			Logger:  log,
			URL:     cfg.Checker.URL,
			Timeout: cfg.Checker.Timeout,
		})
	default:
		chk, err = checker.NewLocal(log, registry)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create checker: %w", err)
	}
	cached, err := checker.NewCached(chk, cfg.Checker.CacheTTL)
	if err != nil {
		return nil, err
	}

	return &app{log: log, cfg: cfg, registry: registry, checker: cached}, nil
}

func (a *app) openStore() error {
	if a.store != nil || !a.cfg.StoreEnabled() {
		return nil
	}
	st, err := store.New(store.Config{Logger: a.log, Path: a.cfg.Store.Path})
	if err != nil {
		return fmt.Errorf("failed to open session store: %w", err)
	}
	a.store = st
	return nil
}

// startService builds the provider client, controller and sinks.
func (a *app) startService(ctx context.Context, concurrency int) error {
	client, err := newLLMClient(ctx, a.log, a.cfg.ProviderConfig())
	if err != nil {
		return fmt.Errorf("failed to create llm client: %w", err)
	}

	controller, err := pipeline.New(pipeline.Config{
		Logger:              a.log,
		LLM:                 client,
		Checker:             a.checker,
		Registry:            a.registry,
		MaxRetries:          a.cfg.Pipeline.MaxRetries,
		EnrichTemperature:   a.cfg.LLM.EnrichTemperature,
		GenerateTemperature: a.cfg.LLM.GenerateTemperature,
		RepairTemperature:   a.cfg.LLM.RepairTemperature,
		OnTransition: func(s pipeline.Session) {
			a.log.Debug("session transition", "id", s.ID, "phase", s.Phase, "retries", s.RetryCount)
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}

	if err := a.openStore(); err != nil {
		return err
	}

	svcCfg := service.Config{
		Logger:      a.log,
		Runner:      controller,
		Concurrency: concurrency,
	}
	if a.store != nil {
		svcCfg.Store = a.store
	}

	if a.cfg.EventsEnabled() {
		a.kafka, err = events.NewKafka(ctx, &events.KafkaConfig{
			Brokers: a.cfg.Events.Brokers,
			AuthIAM: a.cfg.Events.AuthIAM,
		})
		if err != nil {
			return fmt.Errorf("failed to create kafka client: %w", err)
		}
		if a.cfg.Events.Partitions > 0 {
			if err := a.kafka.EnsureTopic(ctx, a.cfg.Events.Topic, a.cfg.Events.Partitions, a.cfg.Events.ReplicationFactor); err != nil {
				return fmt.Errorf("failed to ensure topic exists: %w", err)
			}
		}
		a.publisher, err = events.NewPublisher(events.PublisherConfig{
			Logger:      a.log,
			KafkaClient: a.kafka,
			Topic:       a.cfg.Events.Topic,
		})
		if err != nil {
			return fmt.Errorf("failed to create event publisher: %w", err)
		}
		svcCfg.Publisher = a.publisher
	}

	a.service, err = service.New(svcCfg)
	if err != nil {
		return fmt.Errorf("failed to create service: %w", err)
	}
	return nil
}

// Close releases everything the app opened. Pending events are flushed
// before the Kafka client is closed.
func (a *app) Close(ctx context.Context) {
	if a.service != nil {
		a.service.Close()
	}
	if a.publisher != nil {
		if err := a.publisher.Flush(context.WithoutCancel(ctx)); err != nil {
			a.log.Error("failed to flush session events", "error", err)
		}
	}
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Error("failed to close session store", "error", err)
		}
	}
}
