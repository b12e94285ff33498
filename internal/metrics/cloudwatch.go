package metrics

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

// CloudWatchAPI is the subset of the cloudwatch client used by CloudWatchSink.
type CloudWatchAPI interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// CloudWatchSink writes datums to a CloudWatch namespace.
type CloudWatchSink struct {
	api       CloudWatchAPI
	namespace string
}

// NewCloudWatchSink creates a sink for the given namespace.
func NewCloudWatchSink(api CloudWatchAPI, namespace string) *CloudWatchSink {
	return &CloudWatchSink{api: api, namespace: namespace}
}

// NewCloudWatchSinkFromConfig creates a sink backed by the AWS SDK.
func NewCloudWatchSinkFromConfig(awsCfg aws.Config, namespace string) *CloudWatchSink {
	return NewCloudWatchSink(cloudwatch.NewFromConfig(awsCfg), namespace)
}

// Send issues one PutMetricData call for the batch.
func (s *CloudWatchSink) Send(ctx context.Context, datums []Datum) error {
	if len(datums) == 0 {
		return nil
	}

	data := make([]types.MetricDatum, 0, len(datums))
	for _, d := range datums {
		md := types.MetricDatum{
			MetricName: aws.String(d.Name),
			Value:      aws.Float64(d.Value),
			Unit:       cloudWatchUnit(d.Unit),
		}
		if !d.Timestamp.IsZero() {
			md.Timestamp = aws.Time(d.Timestamp)
		}
		// Sorted so requests are deterministic.
		for _, k := range slices.Sorted(maps.Keys(d.Dimensions)) {
			md.Dimensions = append(md.Dimensions, types.Dimension{
				Name:  aws.String(k),
				Value: aws.String(d.Dimensions[k]),
			})
		}
		data = append(data, md)
	}

	_, err := s.api.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
		Namespace:  aws.String(s.namespace),
		MetricData: data,
	})
	if err != nil {
		return fmt.Errorf("put metric data: %w", err)
	}
	return nil
}

func cloudWatchUnit(u Unit) types.StandardUnit {
	switch u {
	case UnitPercent:
		return types.StandardUnitPercent
	case UnitMilliseconds:
		return types.StandardUnitMilliseconds
	case UnitCount:
		return types.StandardUnitCount
	default:
		return types.StandardUnitNone
	}
}
