package ingest

import (
	"context"
	"fmt"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// DefaultMaxRejectRate is the rejected fraction above which a refresh aborts.
const DefaultMaxRejectRate = 0.2

// Dedup keeps the first occurrence of every (token, broker exchange) and
// every (canonical symbol, canonical exchange). Later rows are reported.
func Dedup(valid []model.Instrument) ([]model.Instrument, []*model.DuplicateError) {
	kept := make([]model.Instrument, 0, len(valid))
	byToken := make(map[model.TokenKey]int, len(valid))
	bySymbol := make(map[model.SymbolKey]int, len(valid))
	var dups []*model.DuplicateError

	for _, inst := range valid {
		tk := inst.TokenKey()
		if i, ok := byToken[tk]; ok {
			dups = append(dups, &model.DuplicateError{Key: tk.String(), Kept: kept[i], Extra: inst, Kind: model.ErrDuplicateToken})
			continue
		}
		sk := inst.SymbolKey()
		if i, ok := bySymbol[sk]; ok {
			dups = append(dups, &model.DuplicateError{Key: sk.String(), Kept: kept[i], Extra: inst, Kind: model.ErrDuplicateSymbol})
			continue
		}
		byToken[tk] = len(kept)
		bySymbol[sk] = len(kept)
		kept = append(kept, inst)
	}
	return kept, dups
}

// CheckRejectRate returns an *model.AbortError when the batch is empty or
// the rejected fraction exceeds threshold.
func CheckRejectRate(total, rejected int, threshold float64) error {
	if total == 0 {
		return &model.AbortError{Threshold: threshold, Reason: "feed returned no rows"}
	}
	if total == rejected {
		return &model.AbortError{Total: total, Rejected: rejected, Threshold: threshold}
	}
	if float64(rejected)/float64(total) > threshold {
		return &model.AbortError{Total: total, Rejected: rejected, Threshold: threshold}
	}
	return nil
}

// LoadResult reports what Load wrote.
type LoadResult struct {
	Inserted   int
	Duplicates []*model.DuplicateError
	Loaded     []model.Instrument
}

// Loader deduplicates valid rows and replaces the store contents in one call.
type Loader struct {
	Store model.InstrumentWriter
}

// Load deduplicates valid and performs a single bulk replace.
func (l *Loader) Load(ctx context.Context, valid []model.Instrument) (LoadResult, error) {
	kept, dups := Dedup(valid)
	if len(kept) == 0 {
		return LoadResult{Duplicates: dups}, &model.AbortError{Reason: "no valid instruments to load"}
	}
	n, err := l.Store.ReplaceAll(ctx, kept)
	if err != nil {
		return LoadResult{Duplicates: dups}, fmt.Errorf("replace instruments: %w", err)
	}
	return LoadResult{Inserted: n, Duplicates: dups, Loaded: kept}, nil
}
