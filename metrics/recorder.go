package metrics

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/panyam/boxconn/client"
)

// Recorder implements client.MetricsRecorder with OpenTelemetry instruments.
type Recorder struct {
	requests        metric.Int64Counter
	requestDuration metric.Float64Histogram
	attempts        metric.Int64Histogram
	refreshes       metric.Int64Counter
	refreshDuration metric.Float64Histogram
}

// NewRecorder creates the instruments on meterProvider. namespace prefixes
// every metric name, e.g. "boxconn".
func NewRecorder(meterProvider metric.MeterProvider, namespace string) (*Recorder, error) {
	meter := meterProvider.Meter("github.com/panyam/boxconn")
	r := &Recorder{}
	var err error

	if r.requests, err = meter.Int64Counter(
		fmt.Sprintf("%s_requests_total", namespace),
		metric.WithDescription("Total number of API requests by final status"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request counter: %w", err)
	}

	if r.requestDuration, err = meter.Float64Histogram(
		fmt.Sprintf("%s_request_duration_seconds", namespace),
		metric.WithDescription("Duration of API requests including retries, in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create request duration histogram: %w", err)
	}

	if r.attempts, err = meter.Int64Histogram(
		fmt.Sprintf("%s_request_attempts", namespace),
		metric.WithDescription("Network attempts made per API request"),
		metric.WithUnit("{attempt}"),
		metric.WithExplicitBucketBoundaries(1, 2, 3, 4, 5, 6, 8, 11),
	); err != nil {
		return nil, fmt.Errorf("failed to create attempts histogram: %w", err)
	}

	if r.refreshes, err = meter.Int64Counter(
		fmt.Sprintf("%s_token_refreshes_total", namespace),
		metric.WithDescription("Total number of token exchanges by grant and outcome"),
		metric.WithUnit("{refresh}"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refresh counter: %w", err)
	}

	if r.refreshDuration, err = meter.Float64Histogram(
		fmt.Sprintf("%s_token_refresh_duration_seconds", namespace),
		metric.WithDescription("Duration of token exchanges in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, fmt.Errorf("failed to create refresh duration histogram: %w", err)
	}

	return r, nil
}

// RecordRequest records a finished request. A statusCode of 0 means no
// response was received.
func (r *Recorder) RecordRequest(ctx context.Context, method string, statusCode, attempts int, duration time.Duration) {
	status := "error"
	if statusCode > 0 {
		status = strconv.Itoa(statusCode)
	}
	attrs := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("status", status),
	)
	r.requests.Add(ctx, 1, attrs)
	r.requestDuration.Record(ctx, duration.Seconds(), attrs)
	r.attempts.Record(ctx, int64(attempts), metric.WithAttributes(attribute.String("method", method)))
}

// RecordRefresh records one token exchange.
func (r *Recorder) RecordRefresh(ctx context.Context, grant string, err error, duration time.Duration) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(
		attribute.String("grant", grant),
		attribute.String("status", status),
	)
	r.refreshes.Add(ctx, 1, attrs)
	r.refreshDuration.Record(ctx, duration.Seconds(), attrs)
}

var _ client.MetricsRecorder = (*Recorder)(nil)
