// Package metrics publishes outcome counters to CloudWatch.
package metrics

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	internalaws "github.com/imrishuroy/go-idempotent-saga/internal/aws"
)

// Metric names.
const (
	CoordinatorOutcome    = "CoordinatorOutcome"
	SagaOutcome           = "SagaOutcome"
	ExpiredRecordsDeleted = "ExpiredRecordsDeleted"
)

// Recorder counts events. Implementations must not fail the caller.
type Recorder interface {
	Count(ctx context.Context, name string, value float64, dimensions map[string]string)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Count(context.Context, string, float64, map[string]string) {}

// CloudWatch emits one PutMetricData call per Count.
type CloudWatch struct {
	client    internalaws.CloudWatchAPI
	namespace string
	nowFunc   func() time.Time
}

// New returns a CloudWatch recorder, or Nop when no namespace is configured.
func New(client internalaws.CloudWatchAPI, namespace string) Recorder {
	if client == nil || namespace == "" {
		return Nop{}
	}
	return &CloudWatch{
		client:    client,
		namespace: namespace,
		nowFunc:   time.Now,
	}
}

// Count publishes value under name with the given dimensions. Errors are logged.
func (c *CloudWatch) Count(ctx context.Context, name string, value float64, dimensions map[string]string) {
	if err := c.put(ctx, name, value, dimensions); err != nil {
		log.Printf("[metrics] %s: %v", name, err)
	}
}

func (c *CloudWatch) put(ctx context.Context, name string, value float64, dimensions map[string]string) error {
	// sorted so identical dimension sets produce identical requests
	keys := make([]string, 0, len(dimensions))
	for k := range dimensions {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	dims := make([]cwtypes.Dimension, 0, len(keys))
	for _, k := range keys {
		dims = append(dims, cwtypes.Dimension{
			Name:  sdkaws.String(k),
			Value: sdkaws.String(dimensions[k]),
		})
	}

	_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace: sdkaws.String(c.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: sdkaws.String(name),
				Dimensions: dims,
				Unit:       cwtypes.StandardUnitCount,
				Value:      sdkaws.Float64(value),
				Timestamp:  sdkaws.Time(c.nowFunc()),
			},
		},
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}
