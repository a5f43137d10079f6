package download

import (
	"fmt"
	"time"
)

// Job is one resolve-then-fetch unit derived from an accepted feed event.
type Job struct {
	ProductType string
	TimestampMs int64
}

// ProductDate returns the product timestamp in UTC.
func (j Job) ProductDate() time.Time {
	return time.UnixMilli(j.TimestampMs).UTC()
}

func (j Job) String() string {
	return fmt.Sprintf("%s/%s", j.ProductType, j.ProductDate().Format("2006-01-02T15:04Z"))
}

// JobResult is the outcome of one processed job.
type JobResult struct {
	Job       Job
	Path      string
	Success   bool
	Skipped   bool
	BytesSize int64
	Error     error
}
