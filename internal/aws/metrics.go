package aws

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"go.uber.org/zap"
)

// Metrics records business counters. Implementations must not block the
// caller on failure.
type Metrics interface {
	Count(ctx context.Context, name string, value float64, dims map[string]string)
}

// MetricsEmitter publishes counters to CloudWatch. Failures are logged and
// swallowed.
type MetricsEmitter struct {
	client    CloudWatchAPI
	namespace string
	lg        *zap.Logger
	nowFunc   func() time.Time
}

func NewMetricsEmitter(client CloudWatchAPI, namespace string, lg *zap.Logger) *MetricsEmitter {
	return &MetricsEmitter{
		client:    client,
		namespace: namespace,
		lg:        lg,
		nowFunc:   time.Now,
	}
}

func (m *MetricsEmitter) Count(ctx context.Context, name string, value float64, dims map[string]string) {
	datum := cwtypes.MetricDatum{
		MetricName: String(name),
		Value:      &value,
		Unit:       cwtypes.StandardUnitCount,
		Timestamp:  ptr(m.nowFunc()),
	}
	for k, v := range dims {
		datum.Dimensions = append(datum.Dimensions, cwtypes.Dimension{Name: String(k), Value: String(v)})
	}
	_, err := m.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  &m.namespace,
		MetricData: []cwtypes.MetricDatum{datum},
	})
	if err != nil {
		m.lg.Warn("put metric data", zap.String("metric", name), zap.Error(err))
	}
}

// NopMetrics discards everything.
type NopMetrics struct{}

func (NopMetrics) Count(context.Context, string, float64, map[string]string) {}

func ptr[T any](v T) *T { return &v }
