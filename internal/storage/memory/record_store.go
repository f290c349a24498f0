package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/appstore-crawler/internal/model"
	"github.com/JakeFAU/appstore-crawler/internal/storage"
)

// RecordStore keeps appended records in memory for development/testing. It
// follows the same append-then-reconcile contract as the SQL stores.
type RecordStore struct {
	mu     sync.RWMutex
	tables map[model.Kind][]model.Record
	prune  bool
	closed bool
}

var _ storage.ReadStore = (*RecordStore)(nil)

// NewRecordStore constructs a RecordStore.
func NewRecordStore(pruneOrphans bool) *RecordStore {
	return &RecordStore{
		tables: make(map[model.Kind][]model.Record),
		prune:  pruneOrphans,
	}
}

// Append adds records of one kind. A mismatched record rejects the whole batch.
func (s *RecordStore) Append(_ context.Context, kind model.Kind, records []model.Record) error {
	for _, rec := range records {
		if rec.Kind() != kind {
			return fmt.Errorf("append %s: got %s record", kind, rec.Kind())
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("append %s: store closed", kind)
	}
	s.tables[kind] = append(s.tables[kind], records...)
	return nil
}

// Reconcile keeps the last appended record per natural key.
func (s *RecordStore) Reconcile(_ context.Context) (storage.ReconcileResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res := storage.ReconcileResult{Removed: map[string]int64{}, Pruned: map[string]int64{}}
	for _, kind := range model.Kinds() {
		rows := s.tables[kind]
		last := make(map[string]int, len(rows))
		for i, rec := range rows {
			key, err := storage.NaturalKey(rec)
			if err != nil {
				return res, err
			}
			last[key] = i
		}
		kept := make([]model.Record, 0, len(last))
		for i, rec := range rows {
			key, _ := storage.NaturalKey(rec)
			if last[key] == i {
				kept = append(kept, rec)
			}
		}
		res.Removed[kind.Table()] = int64(len(rows) - len(kept))
		s.tables[kind] = kept
	}
	if s.prune {
		s.pruneOrphans(res.Pruned)
	}
	return res, nil
}

func (s *RecordStore) pruneOrphans(pruned map[string]int64) {
	ids := func(kind model.Kind) map[string]bool {
		out := map[string]bool{}
		for _, rec := range s.tables[kind] {
			switch r := rec.(type) {
			case model.App:
				out[r.ID] = true
			case model.PricingPlan:
				out[r.ID] = true
			}
		}
		return out
	}
	apps := ids(model.KindApp)
	for _, kind := range model.Kinds() {
		if kind == model.KindPricingPlanFeature {
			// Plans are pruned first so features follow their plan.
			continue
		}
		s.filter(kind, pruned, func(rec model.Record) bool { return apps[appID(rec)] })
	}
	plans := ids(model.KindPricingPlan)
	s.filter(model.KindPricingPlanFeature, pruned, func(rec model.Record) bool {
		f := rec.(model.PricingPlanFeature)
		return apps[f.AppID] && plans[f.PricingPlanID]
	})
}

func (s *RecordStore) filter(kind model.Kind, pruned map[string]int64, keep func(model.Record) bool) {
	if len(storage.Spec(kind).ParentKeys) == 0 {
		return
	}
	rows := s.tables[kind]
	kept := rows[:0]
	for _, rec := range rows {
		if keep(rec) {
			kept = append(kept, rec)
		}
	}
	if n := len(rows) - len(kept); n > 0 {
		pruned[kind.Table()] += int64(n)
	}
	s.tables[kind] = kept
}

func appID(rec model.Record) string {
	switch r := rec.(type) {
	case model.KeyBenefit:
		return r.AppID
	case model.AppCategory:
		return r.AppID
	case model.PricingPlan:
		return r.AppID
	case model.PricingPlanFeature:
		return r.AppID
	case model.Review:
		return r.AppID
	default:
		return ""
	}
}

// Load returns a copy of every record of kind in append order.
func (s *RecordStore) Load(_ context.Context, kind model.Kind) ([]model.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows := s.tables[kind]
	out := make([]model.Record, len(rows))
	copy(out, rows)
	return out, nil
}

// Close marks the store closed; later appends fail.
func (s *RecordStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
