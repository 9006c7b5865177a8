// Package pipeline turns a natural-language hunting question into a
// validated KQL query: enrich the question, generate a query, then validate
// it and repair it until it passes or the retry bound is reached.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/huntql/internal/metrics"
	"github.com/malbeclabs/huntql/pkg/checker"
	"github.com/malbeclabs/huntql/pkg/llm"
	"github.com/malbeclabs/huntql/pkg/schema"
)

// Config holds the configuration for the controller.
type Config struct {
	Logger   *slog.Logger
	LLM      llm.Client
	Checker  checker.Checker
	Registry *schema.Registry
	Prompts  *Prompts // Embedded prompts when nil
	Enricher Enricher // LLM enrichment over Registry when nil

	// Nil selects the default; an explicit zero is honoured.
	MaxRetries          *int     // Max repair cycles (default 2)
	GenerateTemperature *float64 // default 0.2
	RepairTemperature   *float64 // default 0.5
	EnrichTemperature   float64

	Clock clockwork.Clock
	NewID func() string

	// OnTransition is called with every intermediate and terminal session.
	OnTransition func(Session)
}

func (c *Config) Validate() error {
	if c.Logger == nil {
		return ErrLoggerRequired
	}
	if c.LLM == nil {
		return ErrLLMRequired
	}
	if c.Checker == nil {
		return ErrCheckerRequired
	}
	if c.Registry == nil {
		return ErrRegistryRequired
	}
	if c.MaxRetries == nil {
		c.MaxRetries = ptr(DefaultMaxRetries)
	}
	if *c.MaxRetries < 0 {
		return ErrMaxRetries
	}
	if c.GenerateTemperature == nil {
		c.GenerateTemperature = ptr(DefaultGenerateTemperature)
	}
	if c.RepairTemperature == nil {
		c.RepairTemperature = ptr(DefaultRepairTemperature)
	}
	if *c.RepairTemperature < *c.GenerateTemperature {
		return ErrTemperature
	}
	if c.Prompts == nil {
		p, err := LoadPrompts()
		if err != nil {
			return err
		}
		c.Prompts = p
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.NewID == nil {
		c.NewID = uuid.NewString
	}
	return nil
}

// Controller runs sessions. It holds no per-session state and is safe for
// concurrent use when its collaborators are.
type Controller struct {
	log       *slog.Logger
	cfg       Config
	enricher  Enricher
	generator *Generator
	validator *Validator
}

func New(cfg Config) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	enricher := cfg.Enricher
	if enricher == nil {
		e, err := NewLLMEnricher(cfg.LLM, cfg.Registry, cfg.Prompts, cfg.EnrichTemperature)
		if err != nil {
			return nil, err
		}
		enricher = e
	}
	gen, err := NewGenerator(cfg.LLM, cfg.Registry, cfg.Prompts, *cfg.GenerateTemperature)
	if err != nil {
		return nil, err
	}
	val, err := NewValidator(cfg.Checker, cfg.LLM, cfg.Registry, cfg.Prompts, *cfg.RepairTemperature)
	if err != nil {
		return nil, err
	}

	return &Controller{
		log:       cfg.Logger,
		cfg:       cfg,
		enricher:  enricher,
		generator: gen,
		validator: val,
	}, nil
}

func (c *Controller) MaxRetries() int {
	return *c.cfg.MaxRetries
}

// Run executes one session for a user question.
func (c *Controller) Run(ctx context.Context, userQuery string) Session {
	return c.RunWithHistory(ctx, userQuery, Log{})
}

// RunWithHistory executes one session seeded with an earlier conversation.
// It always returns a terminal session; stage failures are recorded in the
// session rather than returned.
func (c *Controller) RunWithHistory(ctx context.Context, userQuery string, history Log) Session {
	s := NewSession(c.cfg.NewID(), userQuery, *c.cfg.MaxRetries, c.cfg.Clock.Now())
	s.Log = history
	c.log.Info("pipeline: session started", "id", s.ID, "query", userQuery)

	for !s.Terminal() {
		ev := c.step(ctx, s)
		next, err := Transition(s, ev)
		if err != nil {
			c.log.Error("pipeline: rejected event", "id", s.ID, "phase", s.Phase, "error", err)
			// Failure events are legal in every non-terminal phase.
			next, _ = Transition(s, failureFor(s.Phase, err, c.cfg.Clock.Now()))
		}
		s = next
		if c.cfg.OnTransition != nil {
			c.cfg.OnTransition(s)
		}
	}

	metrics.Sessions.WithLabelValues(s.Outcome()).Inc()
	c.log.Info("pipeline: session finished",
		"id", s.ID,
		"status", s.Status,
		"retries", s.RetryCount,
		"validations", s.ValidationAttempts,
		"duration", s.Duration())
	return s
}

// step runs the stage for the current phase and reports what happened.
func (c *Controller) step(ctx context.Context, s Session) Event {
	switch s.Phase {
	case PhaseEnriching:
		start := c.cfg.Clock.Now()
		en, err := c.enricher.Enrich(ctx, s.UserQuery, s.Log)
		c.observe(metrics.StageEnrich, start)
		if err == nil && len(en.Sources) != CandidateCount {
			err = &EnrichmentError{Err: fmt.Errorf("%w: got %d", ErrNoCandidates, len(en.Sources))}
		}
		if err != nil {
			c.log.Warn("pipeline: enrichment failed", "id", s.ID, "error", err)
			return EnrichmentFailed{Err: err, At: c.cfg.Clock.Now()}
		}
		c.log.Debug("pipeline: enriched request", "id", s.ID, "description", en.Description, "sources", en.Sources)
		return Enriched{Description: en.Description, Sources: en.Sources, At: c.cfg.Clock.Now()}

	case PhaseGenerating:
		start := c.cfg.Clock.Now()
		query, err := c.generator.Generate(ctx, s.EnrichedDescription, s.Sources(), s.Log)
		c.observe(metrics.StageGenerate, start)
		if err != nil {
			c.log.Warn("pipeline: generation failed", "id", s.ID, "error", err)
			return GenerationFailed{Err: err, At: c.cfg.Clock.Now()}
		}
		c.log.Debug("pipeline: generated query", "id", s.ID, "query", query)
		return Generated{Query: query, At: c.cfg.Clock.Now()}

	case PhaseValidating:
		start := c.cfg.Clock.Now()
		verdict, err := c.validator.Validate(ctx, s.CurrentQuery, s.Sources())
		c.observe(metrics.StageValidate, start)
		if err != nil {
			metrics.Validations.WithLabelValues(metrics.ResultError).Inc()
			c.log.Warn("pipeline: checker failed", "id", s.ID, "error", err)
			return CheckFailed{Err: err, At: c.cfg.Clock.Now()}
		}
		if verdict.Valid {
			metrics.Validations.WithLabelValues(metrics.ResultValid).Inc()
		} else {
			metrics.Validations.WithLabelValues(metrics.ResultInvalid).Inc()
			c.log.Info("pipeline: query failed validation",
				"id", s.ID,
				"attempt", s.ValidationAttempts+1,
				"retries", s.RetryCount,
				"error", verdict.Error)
		}
		return Checked{Verdict: verdict, At: c.cfg.Clock.Now()}

	case PhaseRepairing:
		metrics.Repairs.Inc()
		c.log.Info("pipeline: repairing query", "id", s.ID, "retry", s.RetryCount+1, "max", s.MaxRetries)
		start := c.cfg.Clock.Now()
		fixed, err := c.validator.Repair(ctx, s.CurrentQuery, s.ValidationError, s.Sources(), s.EnrichedDescription, s.Log)
		c.observe(metrics.StageRepair, start)
		if err != nil {
			c.log.Warn("pipeline: repair failed", "id", s.ID, "error", err)
			return RepairFailed{Err: err, At: c.cfg.Clock.Now()}
		}
		c.log.Debug("pipeline: repaired query", "id", s.ID, "query", fixed)
		return Repaired{Query: fixed, At: c.cfg.Clock.Now()}
	}
	return nil
}

func (c *Controller) observe(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(c.cfg.Clock.Since(start).Seconds())
}

func ptr[T any](v T) *T {
	return &v
}
