package challenge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dearie-app/dearie/internal/domain"
	"github.com/dearie-app/dearie/internal/store"
)

// PointsKey holds the accumulated reward points.
const PointsKey = "challenge-points"

// StampKey returns the storage key of a month's stamp record.
func StampKey(month int) string {
	return "challenge-stamps-" + strconv.Itoa(month)
}

// MergeStamps builds the default record of a month: initial outcomes with
// every past day forced to success.
func MergeStamps(initial domain.StampRecord, pastDays []int) domain.StampRecord {
	out := make(domain.StampRecord, len(initial)+len(pastDays))
	for day, o := range initial {
		if day > 0 && o.Valid() {
			out[day] = o
		}
	}
	for _, day := range pastDays {
		if day > 0 {
			out[day] = domain.OutcomeSuccess
		}
	}
	return out
}

// StampStore loads and persists one month's stamp record.
type StampStore struct {
	storage store.Storage
	month   int
	logger  *slog.Logger
}

// NewStampStore returns the stamp store of month.
func NewStampStore(storage store.Storage, month int, logger *slog.Logger) *StampStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &StampStore{storage: storage, month: month, logger: logger}
}

// Load returns the persisted record. When nothing is stored, or the stored
// value is malformed, the merged default is returned and written back.
func (s *StampStore) Load(ctx context.Context, initial domain.StampRecord, pastDays []int) (domain.StampRecord, error) {
	var rec domain.StampRecord
	found, err := store.GetJSON(ctx, s.storage, StampKey(s.month), &rec)
	switch {
	case errors.Is(err, store.ErrMalformed):
		s.logger.Warn("Discarding malformed stamp record", "month", s.month, "error", err)
	case err != nil:
		return nil, fmt.Errorf("load stamps: %w", err)
	case found && rec != nil:
		return rec, nil
	}

	rec = MergeStamps(initial, pastDays)
	if err := s.Save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Save persists the record.
func (s *StampStore) Save(ctx context.Context, rec domain.StampRecord) error {
	if err := store.SetJSON(ctx, s.storage, StampKey(s.month), rec); err != nil {
		return fmt.Errorf("save stamps: %w", err)
	}
	return nil
}

// Points returns the accumulated reward points. A missing or malformed
// value counts as zero.
func Points(ctx context.Context, storage store.Storage) (int, error) {
	raw, ok, err := storage.Get(ctx, PointsKey)
	if err != nil {
		return 0, fmt.Errorf("load points: %w", err)
	}
	if !ok {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, nil
	}
	return n, nil
}

// AddPoints credits delta points and returns the new total.
func AddPoints(ctx context.Context, storage store.Storage, delta int) (int, error) {
	total, err := Points(ctx, storage)
	if err != nil {
		return 0, err
	}
	total += delta
	if err := storage.Set(ctx, PointsKey, strconv.Itoa(total)); err != nil {
		return 0, fmt.Errorf("save points: %w", err)
	}
	return total, nil
}
