package repository

import (
	"context"
	"errors"
)

// ErrCacheUnavailable wraps every failure of the backing store.
// Callers treat it as fatal to the current operation.
var ErrCacheUnavailable = errors.New("price cache unavailable")

// PriceCache holds the last known price of every actively watched symbol
type PriceCache interface {
	Exists(ctx context.Context, symbol string) (bool, error)
	Get(ctx context.Context, symbol string) (float64, bool, error)
	Set(ctx context.Context, symbol string, price float64) error
	Delete(ctx context.Context, symbol string) error
}
