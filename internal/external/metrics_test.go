package external

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"

	"polarsync/internal/types"
)

type capturingCloudWatch struct {
	inputs []*cloudwatch.PutMetricDataInput
	err    error
}

func (c *capturingCloudWatch) PutMetricData(_ context.Context, params *cloudwatch.PutMetricDataInput, _ ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error) {
	c.inputs = append(c.inputs, params)
	return &cloudwatch.PutMetricDataOutput{}, c.err
}

func TestEventProcessedMetric(t *testing.T) {
	cw := &capturingCloudWatch{}
	m := NewCloudWatchMetrics(cw, "PolarSync", nil)

	m.EventProcessed(context.Background(), "order.paid", types.OutcomeProcessed)

	if len(cw.inputs) != 1 {
		t.Fatalf("puts = %d, want 1", len(cw.inputs))
	}
	input := cw.inputs[0]
	if *input.Namespace != "PolarSync" {
		t.Errorf("namespace = %q", *input.Namespace)
	}
	if len(input.MetricData) != 1 {
		t.Fatalf("metric data = %+v", input.MetricData)
	}
	datum := input.MetricData[0]
	if *datum.MetricName != metricEventProcessed || *datum.Value != 1 {
		t.Errorf("datum = %+v", datum)
	}
	dims := map[string]string{}
	for _, d := range datum.Dimensions {
		dims[*d.Name] = *d.Value
	}
	if dims[dimEventType] != "order.paid" || dims[dimOutcome] != "processed" {
		t.Errorf("dimensions = %v", dims)
	}
}

func TestCollaboratorFailureMetric(t *testing.T) {
	cw := &capturingCloudWatch{}
	m := NewCloudWatchMetrics(cw, "PolarSync", nil)

	m.CollaboratorFailure(context.Background(), "invoice")

	if len(cw.inputs) != 1 {
		t.Fatalf("puts = %d, want 1", len(cw.inputs))
	}
	datum := cw.inputs[0].MetricData[0]
	if *datum.MetricName != metricCollaboratorFailure {
		t.Errorf("metric = %q", *datum.MetricName)
	}
	if *datum.Dimensions[0].Value != "invoice" {
		t.Errorf("collaborator = %q", *datum.Dimensions[0].Value)
	}
}

func TestMetricPutFailureIsSwallowed(t *testing.T) {
	cw := &capturingCloudWatch{err: errors.New("throttled")}
	m := NewCloudWatchMetrics(cw, "PolarSync", nil)

	// Must not panic or propagate; metric loss is acceptable.
	m.EventProcessed(context.Background(), "order.paid", types.OutcomeSoftFailed)
}
