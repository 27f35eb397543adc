package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"shuttle-dispatch-service/internal/domain"
	"shuttle-dispatch-service/internal/platform/obs"
	"shuttle-dispatch-service/internal/ports"
)

// RequestImporter stores batches of raw transport requests pushed by
// the intake collaborator. Rows are immutable once stored; derivation
// consumes them per run.
type RequestImporter struct {
	requests ports.RequestRepository
}

func NewRequestImporter(requests ports.RequestRepository) *RequestImporter {
	return &RequestImporter{requests: requests}
}

// ImportSummary reports one import batch.
type ImportSummary struct {
	BatchID  string `json:"batch_id"`
	Inserted int    `json:"inserted"`
	Skipped  int    `json:"skipped"`
}

// Import validates and stores a batch. Malformed rows (blank user or
// facility, missing target time) are counted as skipped rather than
// failing the batch. Place is kept as-is: absence markers like 欠席 are
// legitimate values the deriver interprets later.
func (im *RequestImporter) Import(ctx context.Context, rows []domain.TransportRequest) (_ ImportSummary, err error) {
	defer obs.Time(ctx, "requests.Import")(&err)

	sum := ImportSummary{BatchID: uuid.NewString()}

	valid := make([]domain.TransportRequest, 0, len(rows))
	for _, r := range rows {
		r.UserName = strings.TrimSpace(r.UserName)
		r.FacilityName = strings.TrimSpace(r.FacilityName)
		r.PlaceName = strings.TrimSpace(r.PlaceName)
		if r.UserName == "" || r.FacilityName == "" || r.TargetAt.IsZero() {
			sum.Skipped++
			continue
		}
		valid = append(valid, r)
	}

	if len(valid) > 0 {
		if _, err := im.requests.CreateMany(ctx, valid); err != nil {
			return ImportSummary{}, fmt.Errorf("import requests: %w", err)
		}
	}
	sum.Inserted = len(valid)

	obs.L().Info("requests imported",
		zap.String("batch_id", sum.BatchID),
		zap.Int("inserted", sum.Inserted),
		zap.Int("skipped", sum.Skipped),
	)
	return sum, nil
}
