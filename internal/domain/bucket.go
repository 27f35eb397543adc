package domain

import "time"

// DefaultBucketWidth is the granularity used for departure-time buckets
// when no explicit width is configured.
const DefaultBucketWidth = time.Hour

// Bucketer maps instants onto departure-time buckets. A bucket is the
// floor of the instant to the configured width, evaluated in the local
// timezone and expressed as epoch seconds. The same instant always maps
// to the same bucket, so cache keys stay stable across processes.
type Bucketer struct {
	loc   *time.Location
	width time.Duration
}

func NewBucketer(loc *time.Location, width time.Duration) Bucketer {
	if loc == nil {
		loc = time.UTC
	}
	if width <= 0 {
		width = DefaultBucketWidth
	}
	return Bucketer{loc: loc, width: width}
}

// Bucket floors t to the bucket containing it and returns the bucket
// start as epoch seconds. Flooring is anchored at local midnight so
// widths that do not divide an hour still align with the local day.
func (b Bucketer) Bucket(t time.Time) int64 {
	lt := t.In(b.loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, b.loc)
	offset := lt.Sub(midnight)
	offset -= offset % b.width
	return midnight.Add(offset).Unix()
}

// BucketTime converts a bucket value back into a local instant.
func (b Bucketer) BucketTime(bucket int64) time.Time {
	return time.Unix(bucket, 0).In(b.loc)
}

// Width returns the configured bucket width.
func (b Bucketer) Width() time.Duration { return b.width }

// Location returns the timezone buckets are evaluated in.
func (b Bucketer) Location() *time.Location { return b.loc }
