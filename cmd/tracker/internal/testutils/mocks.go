package testutils

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/protocol"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/repository"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

// MockClient simulates a connected websocket client
type MockClient struct {
	IDVal    string
	Messages []protocol.WSResponse // Stores JSON messages
	RawBytes []string              // Stores raw bytes
	Full     bool                  // Simulates a saturated send buffer
	Closed   bool
	Mu       sync.Mutex
}

func NewMockClient(id string) *MockClient {
	return &MockClient{IDVal: id, Messages: make([]protocol.WSResponse, 0)}
}

func (m *MockClient) ID() string { return m.IDVal }

func (m *MockClient) Close() {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Closed = true
}

func (m *MockClient) SendJSON(v interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	if resp, ok := v.(protocol.WSResponse); ok {
		m.Messages = append(m.Messages, resp)
	}
}

func (m *MockClient) SendBytes(b []byte) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Full {
		return false
	}
	m.RawBytes = append(m.RawBytes, string(b))
	return true
}

// Frames decodes every raw frame received so far
func (m *MockClient) Frames() []protocol.WSResponse {
	m.Mu.Lock()
	defer m.Mu.Unlock()

	out := make([]protocol.WSResponse, 0, len(m.RawBytes))
	for _, raw := range m.RawBytes {
		var resp protocol.WSResponse
		if err := json.Unmarshal([]byte(raw), &resp); err == nil {
			out = append(out, resp)
		}
	}
	return out
}

// MockFeed simulates the upstream provider
type MockFeed struct {
	Mu             sync.Mutex
	Quotes         map[string]models.Quote
	QuoteErr       error
	QuoteDelay     time.Duration
	SubscribeErr   error
	UnsubscribeErr error

	SubscribeCalls   map[string]int
	UnsubscribeCalls map[string]int
	FetchCalls       map[string]int
	Calls            []string // ordered log, e.g. "subscribe AAPL"
}

func NewMockFeed() *MockFeed {
	return &MockFeed{
		Quotes:           make(map[string]models.Quote),
		SubscribeCalls:   make(map[string]int),
		UnsubscribeCalls: make(map[string]int),
		FetchCalls:       make(map[string]int),
	}
}

func (m *MockFeed) SetQuote(symbol string, price float64) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Quotes[symbol] = models.Quote{Current: price, Timestamp: 1700000000}
}

func (m *MockFeed) Subscribe(symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.SubscribeCalls[symbol]++
	m.Calls = append(m.Calls, "subscribe "+symbol)
	return m.SubscribeErr
}

func (m *MockFeed) Unsubscribe(symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.UnsubscribeCalls[symbol]++
	m.Calls = append(m.Calls, "unsubscribe "+symbol)
	return m.UnsubscribeErr
}

func (m *MockFeed) FetchQuote(ctx context.Context, symbol string) (models.Quote, error) {
	m.Mu.Lock()
	m.FetchCalls[symbol]++
	m.Calls = append(m.Calls, "fetch "+symbol)
	q, err, delay := m.Quotes[symbol], m.QuoteErr, m.QuoteDelay
	m.Mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return models.Quote{}, ctx.Err()
		}
	}
	if err != nil {
		return models.Quote{}, err
	}
	return q, nil
}

func (m *MockFeed) Count(calls map[string]int, symbol string) int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return calls[symbol]
}

// MockCache simulates the Redis price cache
type MockCache struct {
	Mu     sync.Mutex
	Prices map[string]float64
	Fail   bool
	Sets   int
}

func NewMockCache() *MockCache {
	return &MockCache{Prices: make(map[string]float64)}
}

func (m *MockCache) err(op string) error {
	if m.Fail {
		return fmt.Errorf("%w: %s: connection refused", repository.ErrCacheUnavailable, op)
	}
	return nil
}

func (m *MockCache) Exists(ctx context.Context, symbol string) (bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.err("exists"); err != nil {
		return false, err
	}
	_, ok := m.Prices[symbol]
	return ok, nil
}

func (m *MockCache) Get(ctx context.Context, symbol string) (float64, bool, error) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.err("get"); err != nil {
		return 0, false, err
	}
	p, ok := m.Prices[symbol]
	return p, ok, nil
}

func (m *MockCache) Set(ctx context.Context, symbol string, price float64) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.err("set"); err != nil {
		return err
	}
	m.Prices[symbol] = price
	m.Sets++
	return nil
}

func (m *MockCache) Delete(ctx context.Context, symbol string) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if err := m.err("delete"); err != nil {
		return err
	}
	delete(m.Prices, symbol)
	return nil
}

// SetFail toggles failures while other goroutines use the cache
func (m *MockCache) SetFail(fail bool) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Fail = fail
}

func (m *MockCache) Has(symbol string) bool {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	_, ok := m.Prices[symbol]
	return ok
}

// Published is one recorded broadcast
type Published struct {
	Topic   string
	Payload interface{}
}

// MockBroadcaster records every Publish call
type MockBroadcaster struct {
	Mu        sync.Mutex
	Published []Published
}

func (m *MockBroadcaster) Publish(topic string, payload interface{}) {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	m.Published = append(m.Published, Published{Topic: topic, Payload: payload})
}

func (m *MockBroadcaster) ByTopic(topic string) []interface{} {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	var out []interface{}
	for _, p := range m.Published {
		if p.Topic == topic {
			out = append(out, p.Payload)
		}
	}
	return out
}

func AssertTrue(t *testing.T, condition bool, msg string) {
	t.Helper()
	if !condition {
		t.Errorf("Assertion failed: %s", msg)
	}
}

// MockTickHandler records handled ticks in arrival order
type MockTickHandler struct {
	Mu    sync.Mutex
	Ticks []models.Tick
	Err   error
}

func (m *MockTickHandler) HandleTradeTick(ctx context.Context, tick models.Tick) error {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Ticks = append(m.Ticks, tick)
	return nil
}

func (m *MockTickHandler) Count() int {
	m.Mu.Lock()
	defer m.Mu.Unlock()
	return len(m.Ticks)
}
