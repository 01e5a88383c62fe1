// Package telemetry provides OpenTelemetry integration for the application.
package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/arvlabs/arv/pkg/logger"
)

const (
	// MeterName is the default meter name for the application
	MeterName = "github.com/arvlabs/arv"
)

// Metrics holds all application metrics
type Metrics struct {
	// Session metrics
	SessionsTotal     metric.Int64Counter
	SessionDuration   metric.Float64Histogram
	ActiveSessions    metric.Int64UpDownCounter
	SessionsByOutcome metric.Int64Counter

	// Issue metrics
	IssuesByStatus metric.Int64Counter

	// HTTP metrics
	HTTPRequestsTotal   metric.Int64Counter
	HTTPRequestDuration metric.Float64Histogram

	// Reviewer run metrics
	ReviewerRunsTotal   metric.Int64Counter
	ReviewerRunErrors   metric.Int64Counter
	ReviewerRunDuration metric.Float64Histogram

	// Consensus metrics
	ConsensusDecisions metric.Int64Counter
	DeliberationTurns  metric.Float64Histogram
}

var (
	globalMetrics *Metrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global metrics instance, initializing it if necessary
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		var err error
		globalMetrics, err = initMetrics()
		if err != nil {
			logger.Error("Failed to initialize metrics", zap.Error(err))
			// Return empty metrics to avoid nil pointer
			globalMetrics = &Metrics{}
		}
	})
	return globalMetrics
}

// initMetrics initializes all application metrics
func initMetrics() (*Metrics, error) {
	meter := otel.Meter(MeterName)
	m := &Metrics{}

	var err error

	// Session metrics
	m.SessionsTotal, err = meter.Int64Counter(
		"arv_sessions_total",
		metric.WithDescription("Total number of review sessions started"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionDuration, err = meter.Float64Histogram(
		"arv_session_duration_seconds",
		metric.WithDescription("Wall time from session start to terminal phase in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1800),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter(
		"arv_active_sessions",
		metric.WithDescription("Number of sessions not yet in a terminal phase"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsByOutcome, err = meter.Int64Counter(
		"arv_sessions_by_outcome_total",
		metric.WithDescription("Total number of finished sessions by terminal phase"),
		metric.WithUnit("{session}"),
	)
	if err != nil {
		return nil, err
	}

	m.IssuesByStatus, err = meter.Int64Counter(
		"arv_issues_by_status_total",
		metric.WithDescription("Total number of issue status transitions"),
		metric.WithUnit("{issue}"),
	)
	if err != nil {
		return nil, err
	}

	// HTTP metrics
	m.HTTPRequestsTotal, err = meter.Int64Counter(
		"arv_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPRequestDuration, err = meter.Float64Histogram(
		"arv_http_request_duration_seconds",
		metric.WithDescription("Duration of HTTP requests in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10),
	)
	if err != nil {
		return nil, err
	}

	// Reviewer run metrics
	m.ReviewerRunsTotal, err = meter.Int64Counter(
		"arv_reviewer_runs_total",
		metric.WithDescription("Total number of reviewer subprocess runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewerRunErrors, err = meter.Int64Counter(
		"arv_reviewer_run_errors_total",
		metric.WithDescription("Total number of failed reviewer subprocess runs"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, err
	}

	m.ReviewerRunDuration, err = meter.Float64Histogram(
		"arv_reviewer_run_duration_seconds",
		metric.WithDescription("Duration of reviewer subprocess runs in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(1, 5, 10, 30, 60, 120, 300, 600, 1200),
	)
	if err != nil {
		return nil, err
	}

	// Consensus metrics
	m.ConsensusDecisions, err = meter.Int64Counter(
		"arv_consensus_decisions_total",
		metric.WithDescription("Total number of consensus decisions by outcome"),
		metric.WithUnit("{decision}"),
	)
	if err != nil {
		return nil, err
	}

	m.DeliberationTurns, err = meter.Float64Histogram(
		"arv_deliberation_turns",
		metric.WithDescription("Deliberation turns consumed per issue before a decision"),
		metric.WithUnit("{turn}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5),
	)
	if err != nil {
		return nil, err
	}

	logger.Info("Metrics initialized successfully")
	return m, nil
}

// RecordSessionStarted records that a review session has started
func (m *Metrics) RecordSessionStarted(ctx context.Context, agentCount int) {
	if m.SessionsTotal == nil {
		return
	}
	m.SessionsTotal.Add(ctx, 1,
		metric.WithAttributes(attribute.Int("agent_count", agentCount)),
	)
	if m.ActiveSessions != nil {
		m.ActiveSessions.Add(ctx, 1)
	}
}

// RecordSessionFinished records that a session reached a terminal phase
func (m *Metrics) RecordSessionFinished(ctx context.Context, phase string, durationSeconds float64) {
	if m.ActiveSessions != nil {
		m.ActiveSessions.Add(ctx, -1)
	}
	if m.SessionsByOutcome != nil {
		m.SessionsByOutcome.Add(ctx, 1,
			metric.WithAttributes(attribute.String("phase", phase)),
		)
	}
	if m.SessionDuration != nil {
		m.SessionDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("phase", phase)),
		)
	}
}

// RecordIssueStatus records an issue status transition
func (m *Metrics) RecordIssueStatus(ctx context.Context, status string) {
	if m.IssuesByStatus == nil {
		return
	}
	m.IssuesByStatus.Add(ctx, 1,
		metric.WithAttributes(attribute.String("status", status)),
	)
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, statusCode int, durationSeconds float64) {
	if m.HTTPRequestsTotal != nil {
		m.HTTPRequestsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
				attribute.Int("status_code", statusCode),
			),
		)
	}
	if m.HTTPRequestDuration != nil {
		m.HTTPRequestDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(
				attribute.String("method", method),
				attribute.String("path", path),
			),
		)
	}
}

// RecordReviewerRun records a reviewer subprocess run
func (m *Metrics) RecordReviewerRun(ctx context.Context, model string, success bool, durationSeconds float64) {
	if m.ReviewerRunsTotal != nil {
		m.ReviewerRunsTotal.Add(ctx, 1,
			metric.WithAttributes(
				attribute.String("agent.model", model),
				attribute.Bool("success", success),
			),
		)
	}
	if !success && m.ReviewerRunErrors != nil {
		m.ReviewerRunErrors.Add(ctx, 1,
			metric.WithAttributes(attribute.String("agent.model", model)),
		)
	}
	if m.ReviewerRunDuration != nil {
		m.ReviewerRunDuration.Record(ctx, durationSeconds,
			metric.WithAttributes(attribute.String("agent.model", model)),
		)
	}
}

// RecordConsensusDecision records a consensus outcome for an issue
func (m *Metrics) RecordConsensusDecision(ctx context.Context, action string, turns int64) {
	if m.ConsensusDecisions != nil {
		m.ConsensusDecisions.Add(ctx, 1,
			metric.WithAttributes(attribute.String("action", action)),
		)
	}
	if m.DeliberationTurns != nil {
		m.DeliberationTurns.Record(ctx, float64(turns),
			metric.WithAttributes(attribute.String("action", action)),
		)
	}
}
