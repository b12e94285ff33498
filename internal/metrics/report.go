package metrics

import (
	"time"
)

// Metric names published per run.
const (
	MetricCompletedJobs      = "CompletedJobs"
	MetricFailedJobs         = "FailedJobs"
	MetricInProgressJobs     = "InProgressJobs"
	MetricSuccessRate        = "SuccessRate"
	MetricDocumentsUpdated   = "DocumentsUpdated"
	MetricRetriesSubmitted   = "RetriesSubmitted"
	MetricProcessingTime     = "ProcessingTime"
	MetricIngestionDuration  = "IngestionJobDuration"
	MetricOperationLatency   = "OperationLatency"
	MetricMonitoringErrors   = "MonitoringErrors"
	MetricDocumentsScanned   = "DocumentsScanned"
	MetricDocumentsIndexed   = "DocumentsIndexed"
	MetricDocumentsFailedIdx = "DocumentsFailedToIndex"
)

// Units understood by every sink.
type Unit string

const (
	UnitCount        Unit = "Count"
	UnitPercent      Unit = "Percent"
	UnitMilliseconds Unit = "Milliseconds"
)

// Datum is a single metric value with optional dimensions.
type Datum struct {
	Name       string
	Value      float64
	Unit       Unit
	Dimensions map[string]string
	Timestamp  time.Time
}

// JobDuration is the wall time of one completed ingestion job.
type JobDuration struct {
	JobID    string
	Duration time.Duration
}

// RunReport aggregates the observable outcome of one reconciliation run.
type RunReport struct {
	CompletedJobs    int
	FailedJobs       int
	InProgressJobs   int
	OtherJobs        int // STARTING, STOPPING, STOPPED
	DocumentsUpdated int
	RetriesSubmitted int
	ProcessingTime   time.Duration
	JobDurations     []JobDuration

	// Statistics summed over completed jobs that reported them.
	DocumentsScanned int64
	DocumentsIndexed int64
	DocumentsFailed  int64

	// Latencies holds the collector snapshot for the run, if any.
	Latencies *Snapshot

	Timestamp time.Time
}

// TotalJobs is the number of jobs listed in the run.
func (r RunReport) TotalJobs() int {
	return r.CompletedJobs + r.FailedJobs + r.InProgressJobs + r.OtherJobs
}

// SuccessRate returns completed jobs as a percentage of all listed jobs,
// or 100 when there are none.
func (r RunReport) SuccessRate() float64 {
	total := r.TotalJobs()
	if total == 0 {
		return 100
	}
	return float64(r.CompletedJobs) / float64(total) * 100
}

// Datums converts the report into metric data points.
func (r RunReport) Datums() []Datum {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	datums := []Datum{
		{Name: MetricCompletedJobs, Value: float64(r.CompletedJobs), Unit: UnitCount},
		{Name: MetricFailedJobs, Value: float64(r.FailedJobs), Unit: UnitCount},
		{Name: MetricInProgressJobs, Value: float64(r.InProgressJobs), Unit: UnitCount},
		{Name: MetricSuccessRate, Value: r.SuccessRate(), Unit: UnitPercent},
		{Name: MetricDocumentsUpdated, Value: float64(r.DocumentsUpdated), Unit: UnitCount},
		{Name: MetricRetriesSubmitted, Value: float64(r.RetriesSubmitted), Unit: UnitCount},
		{Name: MetricProcessingTime, Value: float64(r.ProcessingTime.Milliseconds()), Unit: UnitMilliseconds},
	}

	if r.DocumentsScanned > 0 || r.DocumentsIndexed > 0 || r.DocumentsFailed > 0 {
		datums = append(datums,
			Datum{Name: MetricDocumentsScanned, Value: float64(r.DocumentsScanned), Unit: UnitCount},
			Datum{Name: MetricDocumentsIndexed, Value: float64(r.DocumentsIndexed), Unit: UnitCount},
			Datum{Name: MetricDocumentsFailedIdx, Value: float64(r.DocumentsFailed), Unit: UnitCount},
		)
	}

	for _, jd := range r.JobDurations {
		datums = append(datums, Datum{
			Name:       MetricIngestionDuration,
			Value:      float64(jd.Duration.Milliseconds()),
			Unit:       UnitMilliseconds,
			Dimensions: map[string]string{"JobId": jd.JobID},
		})
	}

	if r.Latencies != nil {
		for _, op := range r.Latencies.OperationNames() {
			datums = append(datums, Datum{
				Name:       MetricOperationLatency,
				Value:      r.Latencies.Operations[op].AvgTimeMs,
				Unit:       UnitMilliseconds,
				Dimensions: map[string]string{"Operation": op},
			})
		}
	}

	for i := range datums {
		datums[i].Timestamp = ts
	}
	return datums
}
