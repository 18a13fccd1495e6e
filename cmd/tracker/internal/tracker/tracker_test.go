package tracker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/registry"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/repository"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/testutils"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/tracker"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

type fixture struct {
	tr    *tracker.Tracker
	reg   *registry.Registry
	cache *testutils.MockCache
	feed  *testutils.MockFeed
	hub   *testutils.MockBroadcaster
}

func setup(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:   registry.New(),
		cache: testutils.NewMockCache(),
		feed:  testutils.NewMockFeed(),
		hub:   &testutils.MockBroadcaster{},
	}
	f.feed.SetQuote("AAPL", 150)
	f.feed.SetQuote("MSFT", 410)
	f.tr = tracker.New(f.reg, f.cache, f.feed, f.hub, nil, zap.NewNop(), tracker.Options{
		QuoteTimeout: 200 * time.Millisecond,
		LockShards:   8,
	})
	return f
}

func TestSwitchSymbol_ColdSymbol(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	if err := f.tr.SwitchSymbol(ctx, "s1", "", "aapl"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := f.feed.Count(f.feed.FetchCalls, "AAPL"); got != 1 {
		t.Errorf("expected 1 fetch, got %d", got)
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected 1 subscribe, got %d", got)
	}
	if f.cache.Prices["AAPL"] != 150 {
		t.Errorf("expected cached 150, got %v", f.cache.Prices["AAPL"])
	}
	published := f.hub.ByTopic("price/AAPL")
	if len(published) != 1 || published[0] != 150.0 {
		t.Errorf("expected one 150 publish, got %v", published)
	}
	if !f.reg.Watching("AAPL", "s1") {
		t.Error("session should be watching AAPL")
	}
}

func TestSwitchSymbol_WarmSymbolSkipsFetch(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")
	f.cache.Prices["AAPL"] = 151.25

	if err := f.tr.SwitchSymbol(ctx, "s2", "", "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.feed.Count(f.feed.FetchCalls, "AAPL"); got != 1 {
		t.Errorf("warm symbol must not be fetched again, got %d fetches", got)
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("second viewer must not subscribe again, got %d", got)
	}
	published := f.hub.ByTopic("price/AAPL")
	if published[len(published)-1] != 151.25 {
		t.Errorf("expected cached price to be re-broadcast, got %v", published)
	}
}

func TestSwitchSymbol_ConcurrentJoinSubscribesOnce(t *testing.T) {
	f := setup(t)
	f.feed.QuoteDelay = 10 * time.Millisecond
	ctx := context.Background()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs <- f.tr.SwitchSymbol(ctx, fmt.Sprintf("s%d", i), "", "AAPL")
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected exactly 1 subscribe, got %d", got)
	}
	if got := f.feed.Count(f.feed.FetchCalls, "AAPL"); got != 1 {
		t.Errorf("expected a single de-duplicated fetch, got %d", got)
	}
	if got := len(f.reg.Viewers("AAPL")); got != n {
		t.Errorf("expected %d viewers, got %d", n, got)
	}

	// Everyone leaves: exactly one unsubscribe and eviction
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = f.tr.SwitchSymbol(ctx, fmt.Sprintf("s%d", i), "AAPL", "MSFT")
		}(i)
	}
	wg.Wait()

	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected exactly 1 unsubscribe, got %d", got)
	}
	if f.cache.Has("AAPL") {
		t.Error("AAPL should be evicted")
	}
	if f.reg.Active("AAPL") {
		t.Error("AAPL should have no registry entry")
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "MSFT"); got != 1 {
		t.Errorf("expected exactly 1 MSFT subscribe, got %d", got)
	}
}

func TestSwitchSymbol_InvalidSymbolReleasesOld(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")

	err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "XXXX")

	if !errors.Is(err, tracker.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
	if err.Error() != "Symbol [XXXX] not found" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("old symbol should be released, got %d unsubscribes", got)
	}
	if f.cache.Has("AAPL") || f.cache.Has("XXXX") {
		t.Error("neither symbol should be cached")
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "XXXX"); got != 0 {
		t.Error("invalid symbol must never be subscribed")
	}
	if len(f.reg.SymbolsOf("s1")) != 0 {
		t.Error("session should end up watching nothing")
	}
	if len(f.hub.ByTopic("price/XXXX")) != 0 {
		t.Error("nothing should be published for an invalid symbol")
	}
}

func TestSwitchSymbol_FetchFailureIsNotFound(t *testing.T) {
	f := setup(t)
	f.feed.QuoteErr = errors.New("provider returned 500")

	err := f.tr.SwitchSymbol(context.Background(), "s1", "", "AAPL")

	var notFound *tracker.SymbolNotFoundError
	if !errors.As(err, &notFound) || notFound.Symbol != "AAPL" {
		t.Fatalf("expected SymbolNotFoundError for AAPL, got %v", err)
	}
}

func TestSwitchSymbol_FetchTimeoutIsNotFound(t *testing.T) {
	f := setup(t)
	f.feed.QuoteDelay = time.Second

	start := time.Now()
	err := f.tr.SwitchSymbol(context.Background(), "s1", "", "AAPL")

	if !errors.Is(err, tracker.ErrSymbolNotFound) {
		t.Fatalf("expected ErrSymbolNotFound, got %v", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected the timeout to be wrapped, got %v", err)
	}
	if time.Since(start) > 900*time.Millisecond {
		t.Error("fetch should have been bounded by the quote timeout")
	}
}

func TestSwitchSymbol_FeedFailuresAreSwallowed(t *testing.T) {
	f := setup(t)
	f.feed.SubscribeErr = errors.New("feed down")
	f.feed.UnsubscribeErr = errors.New("feed down")
	ctx := context.Background()

	if err := f.tr.SwitchSymbol(ctx, "s1", "", "AAPL"); err != nil {
		t.Fatalf("subscribe failure must not fail the switch: %v", err)
	}
	if err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "MSFT"); err != nil {
		t.Fatalf("unsubscribe failure must not fail the switch: %v", err)
	}
	if f.reg.Active("AAPL") || f.cache.Has("AAPL") {
		t.Error("AAPL should still be released")
	}
	if !f.reg.Watching("MSFT", "s1") {
		t.Error("session should watch MSFT")
	}
}

func TestSwitchSymbol_CacheFailurePropagates(t *testing.T) {
	f := setup(t)
	f.cache.Fail = true

	err := f.tr.SwitchSymbol(context.Background(), "s1", "", "AAPL")

	if !errors.Is(err, repository.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if errors.Is(err, tracker.ErrSymbolNotFound) {
		t.Error("cache failures are not user-facing not-found errors")
	}
	if f.reg.Active("AAPL") {
		t.Error("failed switch must not join")
	}
}

func TestSwitchSymbol_SameSymbolWithCacheDownKeepsWatching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	if err := f.tr.SwitchSymbol(ctx, "s1", "", "AAPL"); err != nil {
		t.Fatal(err)
	}

	f.cache.Fail = true
	err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "AAPL")
	if !errors.Is(err, repository.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if !f.tr.Watching("aapl", "s1") {
		t.Fatal("a failed refresh must not drop the session from AAPL")
	}

	f.cache.Fail = false
	if err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "MSFT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.tr.Watching("AAPL", "s1") || f.reg.Active("AAPL") {
		t.Error("switching away should release AAPL")
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected 1 AAPL unsubscribe, got %d", got)
	}
}

func TestSwitchSymbol_EmptyNewSymbolStopsWatching(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")

	if err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.reg.Active("AAPL") {
		t.Error("AAPL should be inactive")
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected 1 unsubscribe, got %d", got)
	}
}

func TestSwitchSymbol_SameSymbolRepublishes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")

	if err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "AAPL"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 0 {
		t.Errorf("re-selecting must not unsubscribe, got %d", got)
	}
	if got := f.feed.Count(f.feed.SubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("re-selecting must not subscribe again, got %d", got)
	}
	if got := len(f.hub.ByTopic("price/AAPL")); got != 2 {
		t.Errorf("expected the price to be published twice, got %d", got)
	}
}

func TestSwitchSymbol_LeaveIsIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")
	_ = f.tr.SwitchSymbol(ctx, "s2", "", "AAPL")
	_ = f.tr.SwitchSymbol(ctx, "s1", "AAPL", "MSFT")

	// Stale currentSymbol: s1 already left AAPL
	if err := f.tr.SwitchSymbol(ctx, "s1", "AAPL", "MSFT"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !f.reg.Watching("AAPL", "s2") {
		t.Error("s2 must still watch AAPL")
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 0 {
		t.Errorf("AAPL still has a viewer, got %d unsubscribes", got)
	}
}

func TestHandleTradeTick_CachesAndPublishesWithoutViewers(t *testing.T) {
	f := setup(t)

	err := f.tr.HandleTradeTick(context.Background(), models.Tick{Symbol: "TSLA", Price: 242.17})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if f.cache.Prices["TSLA"] != 242.17 {
		t.Errorf("expected cached 242.17, got %v", f.cache.Prices["TSLA"])
	}
	published := f.hub.ByTopic("price/TSLA")
	if len(published) != 1 || published[0] != 242.17 {
		t.Errorf("expected exact tick value published, got %v", published)
	}
}

func TestHandleTradeTick_CacheFailure(t *testing.T) {
	f := setup(t)
	f.cache.Fail = true

	err := f.tr.HandleTradeTick(context.Background(), models.Tick{Symbol: "TSLA", Price: 1})
	if !errors.Is(err, repository.ErrCacheUnavailable) {
		t.Fatalf("expected ErrCacheUnavailable, got %v", err)
	}
	if len(f.hub.ByTopic("price/TSLA")) != 0 {
		t.Error("an uncached tick must not be published")
	}
}

func TestHandleDisconnect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	_ = f.tr.SwitchSymbol(ctx, "s1", "", "AAPL")
	_ = f.tr.SwitchSymbol(ctx, "s2", "", "AAPL")
	_ = f.tr.SwitchSymbol(ctx, "s3", "", "MSFT")

	if err := f.tr.HandleDisconnect(ctx, "s1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 0 {
		t.Error("AAPL still has s2")
	}

	_ = f.tr.HandleDisconnect(ctx, "s2")
	_ = f.tr.HandleDisconnect(ctx, "s2")
	if got := f.feed.Count(f.feed.UnsubscribeCalls, "AAPL"); got != 1 {
		t.Errorf("expected exactly 1 unsubscribe, got %d", got)
	}
	if f.cache.Has("AAPL") || f.reg.Active("AAPL") {
		t.Error("AAPL should be fully deactivated")
	}
	if !f.reg.Active("MSFT") || !f.cache.Has("MSFT") {
		t.Error("MSFT must be untouched")
	}
}

func TestTracker_ConcurrentMixedOperations(t *testing.T) {
	// Run with `go test -race ./...`
	f := setup(t)
	f.feed.SetQuote("GOOG", 170)
	f.feed.SetQuote("TSLA", 240)
	symbols := []string{"AAPL", "MSFT", "GOOG", "TSLA"}
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			session := fmt.Sprintf("s%d", i)
			current := ""
			for j := 0; j < 10; j++ {
				next := symbols[(i+j)%len(symbols)]
				if err := f.tr.SwitchSymbol(ctx, session, current, next); err == nil {
					current = next
				} else {
					current = ""
				}
			}
			_ = f.tr.HandleDisconnect(ctx, session)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for j := 0; j < 100; j++ {
			_ = f.tr.HandleTradeTick(ctx, models.Tick{Symbol: symbols[j%len(symbols)], Price: float64(j + 1)})
		}
	}()
	wg.Wait()

	if f.reg.Len() != 0 {
		t.Errorf("all sessions left, registry still has %v", f.reg.Symbols())
	}
	for _, s := range symbols {
		subs := f.feed.Count(f.feed.SubscribeCalls, s)
		unsubs := f.feed.Count(f.feed.UnsubscribeCalls, s)
		if subs != unsubs {
			t.Errorf("%s: %d subscribes vs %d unsubscribes", s, subs, unsubs)
		}
	}
}
