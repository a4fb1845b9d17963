// Package metrics publishes per-cycle pipeline metrics.
package metrics

import (
	"context"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"github.com/kjannette/coinflow/internal/logger"
	"github.com/kjannette/coinflow/internal/models"
)

const publishTimeout = 10 * time.Second

type Publisher interface {
	PublishCycle(ctx context.Context, report *models.CycleReport)
}

// Nop discards metrics.
type Nop struct{}

func (Nop) PublishCycle(context.Context, *models.CycleReport) {}

type putMetricDataAPI interface {
	PutMetricData(ctx context.Context, in *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatch publishes one datum per counter, dimensioned by pipeline name.
// Publishing failures are logged; they never fail the cycle.
type CloudWatch struct {
	client    putMetricDataAPI
	namespace string
	pipeline  string
	log       *logger.Entry
}

func NewCloudWatch(client putMetricDataAPI, namespace, pipeline string, log *logger.Entry) *CloudWatch {
	if log == nil {
		log = logger.GetLogger().WithComponent("cloudwatch")
	}
	return &CloudWatch{client: client, namespace: namespace, pipeline: pipeline, log: log}
}

func (c *CloudWatch) PublishCycle(ctx context.Context, report *models.CycleReport) {
	data := c.datums(report)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	if _, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(c.namespace),
		MetricData: data,
	}); err != nil {
		c.log.WithError(err).Warn("failed to publish CloudWatch metrics")
		return
	}

	names := make([]string, 0, len(data))
	for _, d := range data {
		names = append(names, aws.ToString(d.MetricName))
	}
	c.log.WithField("metrics", strings.Join(names, ",")).Debug("published metrics to CloudWatch")
}

func (c *CloudWatch) datums(r *models.CycleReport) []cwtypes.MetricDatum {
	dims := []cwtypes.Dimension{{Name: aws.String("pipeline"), Value: aws.String(c.pipeline)}}
	ts := aws.Time(r.FinishedAt)
	failed := 0.0
	if r.Failed() {
		failed = 1
	}

	datum := func(name string, v float64, unit cwtypes.StandardUnit) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{
			MetricName: aws.String(name),
			Dimensions: dims,
			Timestamp:  ts,
			Unit:       unit,
			Value:      aws.Float64(v),
		}
	}
	return []cwtypes.MetricDatum{
		datum("RecordsFetched", float64(r.Fetched), cwtypes.StandardUnitCount),
		datum("RecordsValid", float64(r.Valid), cwtypes.StandardUnitCount),
		datum("RecordsInvalid", float64(r.Invalid), cwtypes.StandardUnitCount),
		datum("RecordsWritten", float64(r.Written), cwtypes.StandardUnitCount),
		datum("CycleDurationMs", float64(r.Duration().Milliseconds()), cwtypes.StandardUnitMilliseconds),
		datum("CycleFailed", failed, cwtypes.StandardUnitCount),
	}
}
