package services

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/ZORA-CORE/ZORA-CORE-sub001/internal/services"

type engineMetrics struct {
	runsCreated  metric.Int64Counter
	stepsStarted metric.Int64Counter
	stepsSettled metric.Int64Counter
	runsFinished metric.Int64Counter
}

func newEngineMetrics(meter metric.Meter) *engineMetrics {
	m := &engineMetrics{}
	// Instrument creation only fails on invalid names; fall back to no-op counters.
	var err error
	if m.runsCreated, err = meter.Int64Counter("workflow.runs.created",
		metric.WithDescription("Workflow runs created")); err != nil {
		otel.Handle(err)
	}
	if m.stepsStarted, err = meter.Int64Counter("workflow.steps.started",
		metric.WithDescription("Run-steps started, by step type")); err != nil {
		otel.Handle(err)
	}
	if m.stepsSettled, err = meter.Int64Counter("workflow.steps.reconciled",
		metric.WithDescription("Run-steps settled from agent task results, by status")); err != nil {
		otel.Handle(err)
	}
	if m.runsFinished, err = meter.Int64Counter("workflow.runs.finished",
		metric.WithDescription("Workflow runs reaching a terminal status, by status")); err != nil {
		otel.Handle(err)
	}
	return m
}

func (m *engineMetrics) add(ctx context.Context, counter metric.Int64Counter, attrs ...attribute.KeyValue) {
	if counter == nil {
		return
	}
	counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// startSpan opens a span named after the service operation.
func (s *WorkflowService) startSpan(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "WorkflowService."+op, trace.WithAttributes(attrs...))
}

// endSpan records err on span and ends it.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
