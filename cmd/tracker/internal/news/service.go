// Package news proxies company news from the market-data provider.
package news

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

const dateLayout = "2006-01-02"

// Source fetches raw news for a date range
type Source interface {
	CompanyNews(ctx context.Context, symbol, from, to string) ([]models.NewsItem, error)
}

// FetchError is returned for any upstream failure
type FetchError struct {
	Symbol string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("Failed to fetch company news from Finnhub for symbol [%s]", e.Symbol)
}

func (e *FetchError) Unwrap() error { return e.Err }

type Service struct {
	source       Source
	logger       *zap.Logger
	lookbackDays int
	now          func() time.Time
}

func NewService(source Source, lookbackDays int, logger *zap.Logger) *Service {
	if lookbackDays <= 0 {
		lookbackDays = 3
	}
	return &Service{source: source, logger: logger, lookbackDays: lookbackDays, now: time.Now}
}

// WithClock replaces the wall clock, for tests
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// CompanyNews returns the news of the last lookbackDays days, today included.
func (s *Service) CompanyNews(ctx context.Context, symbol string) ([]models.NewsItem, error) {
	symbol = models.NormalizeSymbol(symbol)
	to := s.now()
	from := to.AddDate(0, 0, -s.lookbackDays)

	s.logger.Info("Fetching company news", zap.String("symbol", symbol))

	items, err := s.source.CompanyNews(ctx, symbol, from.Format(dateLayout), to.Format(dateLayout))
	if err != nil {
		s.logger.Warn("Company news fetch failed", zap.String("symbol", symbol), zap.Error(err))
		return nil, &FetchError{Symbol: symbol, Err: err}
	}
	if items == nil {
		items = []models.NewsItem{}
	}
	return items, nil
}

// Page is one slice of a longer result list
type Page[T any] struct {
	Content       []T  `json:"content"`
	PageNo        int  `json:"pageNo"`
	PageSize      int  `json:"pageSize"`
	TotalElements int  `json:"totalElements"`
	TotalPages    int  `json:"totalPages"`
	Last          bool `json:"last"`
}

// Paginate cuts page pageNo (zero based) of size pageSize out of items. A
// page past the end is empty. pageSize must be positive.
func Paginate[T any](items []T, pageNo, pageSize int) Page[T] {
	total := len(items)
	totalPages := total / pageSize
	if total%pageSize != 0 {
		totalPages++
	}

	// Bounds are compared before multiplying so a huge pageNo or pageSize
	// cannot wrap around.
	start := total
	if pageNo >= 0 && pageNo <= total/pageSize {
		start = pageNo * pageSize
	}
	end := total
	if pageSize < total-start {
		end = start + pageSize
	}

	content := make([]T, end-start)
	copy(content, items[start:end])

	return Page[T]{
		Content:       content,
		PageNo:        pageNo,
		PageSize:      pageSize,
		TotalElements: total,
		TotalPages:    totalPages,
		Last:          pageNo >= totalPages-1,
	}
}
