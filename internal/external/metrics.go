package external

import (
	"context"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"polarsync/internal/reconcile"
	"polarsync/internal/types"
)

// Metric names and dimensions emitted by the reconciliation core.
const (
	metricEventProcessed      = "EventProcessed"
	metricCollaboratorFailure = "CollaboratorFailure"

	dimEventType    = "EventType"
	dimOutcome      = "Outcome"
	dimCollaborator = "Collaborator"
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchMetrics implements the core's MetricsEmitter by publishing to
// AWS CloudWatch. Emission is fire-and-forget: a failed put is logged and
// never affects event processing.
type CloudWatchMetrics struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger
}

// NewCloudWatchMetrics creates a CloudWatchMetrics publishing to the given
// namespace.
func NewCloudWatchMetrics(client CloudWatchClient, namespace string, logger *slog.Logger) *CloudWatchMetrics {
	if logger == nil {
		logger = slog.Default()
	}
	return &CloudWatchMetrics{client: client, namespace: namespace, logger: logger}
}

// EventProcessed counts one webhook event per type and outcome.
func (m *CloudWatchMetrics) EventProcessed(ctx context.Context, eventType string, outcome types.EventOutcome) {
	m.put(ctx, metricEventProcessed, []cwtypes.Dimension{
		{Name: aws.String(dimEventType), Value: aws.String(eventType)},
		{Name: aws.String(dimOutcome), Value: aws.String(string(outcome))},
	})
}

// CollaboratorFailure counts one swallowed side-effect failure per
// collaborator.
func (m *CloudWatchMetrics) CollaboratorFailure(ctx context.Context, collaborator string) {
	m.put(ctx, metricCollaboratorFailure, []cwtypes.Dimension{
		{Name: aws.String(dimCollaborator), Value: aws.String(collaborator)},
	})
}

func (m *CloudWatchMetrics) put(ctx context.Context, name string, dims []cwtypes.Dimension) {
	input := &cloudwatch.PutMetricDataInput{
		Namespace: aws.String(m.namespace),
		MetricData: []cwtypes.MetricDatum{
			{
				MetricName: aws.String(name),
				Value:      aws.Float64(1),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: dims,
			},
		},
	}

	if _, err := m.client.PutMetricData(ctx, input); err != nil {
		m.logger.WarnContext(ctx, "failed to publish metric",
			"metric", name,
			"error", err,
		)
	}
}

// Compile-time assertion that CloudWatchMetrics implements MetricsEmitter.
var _ reconcile.MetricsEmitter = (*CloudWatchMetrics)(nil)
