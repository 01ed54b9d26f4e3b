package store

import (
	"context"

	"MarketCache/internal/model"
)

// NopStore is used when no remote store is configured. Every read misses
// and every write is discarded.
type NopStore struct{}

func NewNopStore() *NopStore { return &NopStore{} }

func (NopStore) Get(context.Context, model.CacheKey) (model.Series, bool, error) {
	return nil, false, nil
}
func (NopStore) Put(context.Context, model.CacheKey, model.Series) error { return nil }
func (NopStore) Health(context.Context) error                            { return nil }
func (NopStore) Close() error                                            { return nil }
