// Package telemetry emits entitlement metrics to CloudWatch.
package telemetry

import (
	"context"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"invoicely/internal/types"
)

// Recorder is the metrics sink used by the entitlement services and the HTTP
// chassis. Implementations must not block the caller on delivery failures.
type Recorder interface {
	// Count emits a count of 1 for metric with a single Outcome dimension.
	Count(ctx context.Context, metric, outcome string)
	// Gauge emits value for metric with no dimensions.
	Gauge(ctx context.Context, metric string, value float64)
	// RecordRequest emits API latency and request count.
	RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration)
}

// CloudWatchClient abstracts the CloudWatch PutMetricData operation.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchRecorder implements Recorder with PutMetricData calls.
type CloudWatchRecorder struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchRecorder creates a recorder. An empty namespace uses
// types.MetricNamespace.
func NewCloudWatchRecorder(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchRecorder {
	if namespace == "" {
		namespace = types.MetricNamespace
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchRecorder{client: client, namespace: namespace, logger: logger}
}

func (r *CloudWatchRecorder) put(ctx context.Context, data ...cwtypes.MetricDatum) {
	_, err := r.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(r.namespace),
		MetricData: data,
	})
	if err != nil {
		r.logger.WarnContext(ctx, "failed to publish metrics",
			"error", err,
			"metric", aws.ToString(data[0].MetricName),
		)
	}
}

func dim(name, value string) cwtypes.Dimension {
	return cwtypes.Dimension{Name: aws.String(name), Value: aws.String(value)}
}

func (r *CloudWatchRecorder) Count(ctx context.Context, metric, outcome string) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{dim(types.DimOutcome, outcome)},
	})
}

func (r *CloudWatchRecorder) Gauge(ctx context.Context, metric string, value float64) {
	r.put(ctx, cwtypes.MetricDatum{
		MetricName: aws.String(metric),
		Value:      aws.Float64(value),
		Unit:       cwtypes.StandardUnitCount,
	})
}

func (r *CloudWatchRecorder) RecordRequest(ctx context.Context, method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		dim(types.DimMethod, method),
		dim(types.DimEndpoint, endpoint),
		dim(types.DimStatus, status),
	}
	r.put(ctx,
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPILatency),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String(types.MetricAPIRequestCount),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
	)
}

// Noop discards all metrics.
type Noop struct{}

func (Noop) Count(context.Context, string, string)                                {}
func (Noop) Gauge(context.Context, string, float64)                               {}
func (Noop) RecordRequest(context.Context, string, string, string, time.Duration) {}

var (
	_ Recorder = (*CloudWatchRecorder)(nil)
	_ Recorder = Noop{}
)
