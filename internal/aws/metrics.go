package aws

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// MetricEmitter publishes counters to CloudWatch under a single namespace.
type MetricEmitter struct {
	client    CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// NewMetricEmitter returns an emitter writing into namespace.
func NewMetricEmitter(client CloudWatchAPI, namespace string) *MetricEmitter {
	return &MetricEmitter{client: client, namespace: namespace, nowFunc: time.Now}
}

// Count records value under name, tagged with the given dimensions.
func (e *MetricEmitter) Count(ctx context.Context, name string, value float64, dimensions map[string]string) error {
	return e.Record(ctx, map[string]float64{name: value}, dimensions)
}

// Amount records a monetary value; CloudWatch has no currency unit, so it carries None.
func (e *MetricEmitter) Amount(ctx context.Context, name string, value float64, dimensions map[string]string) error {
	return e.put(ctx, map[string]float64{name: value}, cwtypes.StandardUnitNone, dimensions)
}

// Record publishes several counters sharing the same dimensions in one call.
func (e *MetricEmitter) Record(ctx context.Context, values map[string]float64, dimensions map[string]string) error {
	return e.put(ctx, values, cwtypes.StandardUnitCount, dimensions)
}

func (e *MetricEmitter) put(ctx context.Context, values map[string]float64, unit cwtypes.StandardUnit, dimensions map[string]string) error {
	dims := make([]cwtypes.Dimension, 0, len(dimensions))
	for k, v := range dimensions {
		if v == "" {
			continue
		}
		dims = append(dims, cwtypes.Dimension{Name: sdkaws.String(k), Value: sdkaws.String(v)})
	}

	now := e.nowFunc()
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	data := make([]cwtypes.MetricDatum, 0, len(values))
	for _, name := range names {
		data = append(data, cwtypes.MetricDatum{
			MetricName: sdkaws.String(name),
			Value:      sdkaws.Float64(values[name]),
			Unit:       unit,
			Timestamp:  sdkaws.Time(now),
			Dimensions: dims,
		})
	}

	_, err := e.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  sdkaws.String(e.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metrics %s: %w", strings.Join(names, ","), err)
	}
	return nil
}
