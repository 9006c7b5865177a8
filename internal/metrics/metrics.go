package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Metrics names.
	MetricNameBuildInfo           = "huntql_build_info"
	MetricNameSessions            = "huntql_sessions_total"
	MetricNameStageDuration       = "huntql_stage_duration_seconds"
	MetricNameLLMRequests         = "huntql_llm_requests_total"
	MetricNameValidations         = "huntql_validations_total"
	MetricNameRepairs             = "huntql_repairs_total"
	MetricNameCheckerCacheHits    = "huntql_checker_cache_hits_total"
	MetricNameEventsPublished     = "huntql_events_published_total"
	MetricNameToolCalls           = "huntql_tool_calls_total"
	MetricNameToolCallDuration    = "huntql_tool_call_duration_seconds"
	MetricNameHTTPRequests        = "huntql_http_requests_total"
	MetricNameHTTPRequestDuration = "huntql_http_request_duration_seconds"
	MetricNameAuthFailures        = "huntql_auth_failures_total"

	// Labels.
	LabelVersion  = "version"
	LabelCommit   = "commit"
	LabelDate     = "date"
	LabelOutcome  = "outcome"
	LabelStage    = "stage"
	LabelProvider = "provider"
	LabelStatus   = "status"
	LabelResult   = "result"
	LabelToolName = "tool_name"
	LabelMethod   = "method"
	LabelEndpoint = "endpoint"
	LabelReason   = "reason"

	// Stages.
	StageEnrich   = "enrich"
	StageGenerate = "generate"
	StageValidate = "validate"
	StageRepair   = "repair"

	// Statuses.
	StatusSuccess = "success"
	StatusError   = "error"

	// Validation results.
	ResultValid   = "valid"
	ResultInvalid = "invalid"
	ResultError   = "error"
)

var (
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: MetricNameBuildInfo,
			Help: "Build information of huntql",
		},
		[]string{LabelVersion, LabelCommit, LabelDate},
	)

	Sessions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameSessions,
			Help: "Number of hunting sessions by terminal outcome",
		},
		[]string{LabelOutcome},
	)

	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameStageDuration,
			Help:    "Duration of pipeline stages",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 0.01s to ~41s
		},
		[]string{LabelStage},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameLLMRequests,
			Help: "Number of text generation requests by provider and status",
		},
		[]string{LabelProvider, LabelStatus},
	)

	Validations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameValidations,
			Help: "Number of query validations by result",
		},
		[]string{LabelResult},
	)

	Repairs = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameRepairs,
			Help: "Number of repair attempts",
		},
	)

	CheckerCacheHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: MetricNameCheckerCacheHits,
			Help: "Number of checker verdicts served from cache",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameEventsPublished,
			Help: "Number of session events published by status",
		},
		[]string{LabelStatus},
	)

	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameToolCalls,
			Help: "Total number of tool calls",
		},
		[]string{LabelToolName, LabelStatus},
	)

	ToolCallDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    MetricNameToolCallDuration,
			Help:    "Duration of tool calls",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{LabelToolName},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameHTTPRequests,
			Help: "Total number of HTTP requests",
		},
		[]string{LabelMethod, LabelEndpoint, LabelStatus},
	)

	HTTPRequestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    MetricNameHTTPRequestDuration,
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)

	AuthFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: MetricNameAuthFailures,
			Help: "Total number of authentication failures",
		},
		[]string{LabelReason},
	)
)
