// Package feed provides contract feed sources: the broker files a refresh
// downloads and hands to ingestion as raw rows.
package feed

import (
	"context"

	"github.com/marketcalls/openalgo-sub002/internal/model"
)

// Source is one contract feed of a broker.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]model.RawRow, error)
}

// StaticSource returns a fixed row set.
type StaticSource struct {
	SourceName string
	Rows       []model.RawRow
	Err        error
}

func (s *StaticSource) Name() string { return s.SourceName }

// Fetch returns a copy of Rows, or Err when set.
func (s *StaticSource) Fetch(ctx context.Context) ([]model.RawRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Err != nil {
		return nil, s.Err
	}
	out := make([]model.RawRow, len(s.Rows))
	copy(out, s.Rows)
	return out, nil
}

// FuncSource adapts a function to Source.
type FuncSource struct {
	SourceName string
	Fn         func(ctx context.Context) ([]model.RawRow, error)
}

func (s *FuncSource) Name() string { return s.SourceName }

func (s *FuncSource) Fetch(ctx context.Context) ([]model.RawRow, error) { return s.Fn(ctx) }
