package domain

import (
	"testing"
	"time"
)

var jst = time.FixedZone("JST", 9*60*60)

func TestBucketFloorsToWidth(t *testing.T) {
	b := NewBucketer(jst, time.Hour)

	depart := time.Date(2025, 10, 21, 8, 5, 0, 0, jst)
	want := time.Date(2025, 10, 21, 8, 0, 0, 0, jst).Unix()

	if got := b.Bucket(depart); got != want {
		t.Fatalf("Bucket(08:05 JST) = %d, want %d", got, want)
	}

	// The same instant expressed in UTC must land in the same bucket.
	if got := b.Bucket(depart.UTC()); got != want {
		t.Fatalf("Bucket(UTC view) = %d, want %d", got, want)
	}
}

func TestBucketIdempotent(t *testing.T) {
	b := NewBucketer(jst, time.Hour)

	for _, depart := range []time.Time{
		time.Date(2025, 10, 21, 8, 0, 0, 0, jst),
		time.Date(2025, 10, 21, 8, 59, 59, 0, jst),
		time.Date(2025, 10, 21, 0, 0, 1, 0, jst),
		time.Date(2025, 12, 31, 23, 30, 0, 0, jst),
	} {
		first := b.Bucket(depart)
		again := b.Bucket(b.BucketTime(first))
		if first != again {
			t.Errorf("bucket of %v not idempotent: %d then %d", depart, first, again)
		}
	}
}

func TestBucketAnchoredAtLocalMidnight(t *testing.T) {
	// 45 minutes does not divide an hour; flooring still aligns with
	// the local day, not with the epoch.
	b := NewBucketer(jst, 45*time.Minute)

	depart := time.Date(2025, 10, 21, 1, 10, 0, 0, jst)
	want := time.Date(2025, 10, 21, 0, 45, 0, 0, jst).Unix()
	if got := b.Bucket(depart); got != want {
		t.Fatalf("Bucket(01:10 JST, 45m) = %d, want %d", got, want)
	}
}

func TestBucketCrossesDateLine(t *testing.T) {
	b := NewBucketer(jst, time.Hour)

	// 23:05 UTC on the 20th is 08:05 JST on the 21st.
	depart := time.Date(2025, 10, 20, 23, 5, 0, 0, time.UTC)
	want := time.Date(2025, 10, 21, 8, 0, 0, 0, jst).Unix()
	if got := b.Bucket(depart); got != want {
		t.Fatalf("Bucket across date line = %d, want %d", got, want)
	}
}

func TestNewBucketerDefaults(t *testing.T) {
	b := NewBucketer(nil, 0)
	if b.Width() != DefaultBucketWidth {
		t.Errorf("width = %v, want %v", b.Width(), DefaultBucketWidth)
	}
	if b.Location() != time.UTC {
		t.Errorf("location = %v, want UTC", b.Location())
	}
}
