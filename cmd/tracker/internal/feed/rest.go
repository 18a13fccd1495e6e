package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

// RESTClient wraps the provider's request/response endpoints
type RESTClient struct {
	http   *resty.Client
	apiKey string
	logger *zap.Logger
}

func NewRESTClient(baseURL, apiKey string, timeout time.Duration, logger *zap.Logger) *RESTClient {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &RESTClient{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Accept", "application/json"),
		apiKey: apiKey,
		logger: logger,
	}
}

// Quote fetches the current snapshot for symbol. An unknown symbol is not an
// error here: the provider answers with an all-zero quote, see Quote.Valid.
func (c *RESTClient) Quote(ctx context.Context, symbol string) (models.Quote, error) {
	c.logger.Debug("Fetching quote", zap.String("symbol", symbol))

	var q models.Quote
	if err := c.get(ctx, "/quote", map[string]string{"symbol": symbol}, &q); err != nil {
		return models.Quote{}, fmt.Errorf("fetch quote for %s: %w", symbol, err)
	}
	return q, nil
}

// CompanyNews lists news between from and to (YYYY-MM-DD, inclusive)
func (c *RESTClient) CompanyNews(ctx context.Context, symbol, from, to string) ([]models.NewsItem, error) {
	var items []models.NewsItem
	params := map[string]string{"symbol": symbol, "from": from, "to": to}
	if err := c.get(ctx, "/company-news", params, &items); err != nil {
		return nil, fmt.Errorf("fetch company news for %s: %w", symbol, err)
	}
	if items == nil {
		items = []models.NewsItem{}
	}
	return items, nil
}

func (c *RESTClient) get(ctx context.Context, path string, params map[string]string, out interface{}) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParams(params).
		SetQueryParam("token", c.apiKey).
		Get(path)
	if err != nil {
		return err
	}
	if resp.IsError() {
		return fmt.Errorf("provider returned %s", resp.Status())
	}
	if err := json.Unmarshal(resp.Body(), out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
