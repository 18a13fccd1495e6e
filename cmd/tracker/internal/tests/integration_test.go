package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket" // Using Gorilla for the test CLIENT
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/feed"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/gateway"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/httpapi"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/hub"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/news"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/processor"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/protocol"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/registry"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/repository"
	"github.com/shubham-shewale/stock-tracker/cmd/tracker/internal/tracker"
	"github.com/shubham-shewale/stock-tracker/pkg/config"
	"github.com/shubham-shewale/stock-tracker/pkg/feedsim"
	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

type stack struct {
	server *httptest.Server
	mr     *miniredis.Miniredis
	sim    *feedsim.Server
}

func startStack(t *testing.T) *stack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop()

	mr := miniredis.RunT(t)
	store := repository.NewRedisStore(redis.NewClient(&redis.Options{Addr: mr.Addr()}))

	sim := feedsim.NewServer(logger, "test-token")
	sim.SetQuote("AAPL", models.Quote{Current: 150, Timestamp: 1700000000})
	sim.SetQuote("MSFT", models.Quote{Current: 410, Timestamp: 1700000000})
	sim.SetNews("AAPL", []models.NewsItem{{ID: 1, Headline: "one"}, {ID: 2, Headline: "two"}, {ID: 3, Headline: "three"}})
	simSrv := httptest.NewServer(sim)
	t.Cleanup(simSrv.Close)

	feedClient := feed.NewClient(feed.Options{
		WSURL:        "ws" + strings.TrimPrefix(simSrv.URL, "http"),
		RestURL:      simSrv.URL,
		APIKey:       "test-token",
		DialTimeout:  time.Second,
		QuoteTimeout: time.Second,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
	}, logger)

	promReg := prometheus.NewRegistry()
	metrics := tracker.NewMetrics(promReg)
	feedClient.OnConnectionChange(metrics.SetFeedConnected)

	wsHub := hub.NewHub(logger)
	tr := tracker.New(registry.New(), store, feedClient, wsHub, metrics, logger, tracker.Options{QuoteTimeout: time.Second, LockShards: 16})
	proc := processor.NewProcessor(config.TrackerConfig{NumWorkers: 2, QueueSize: 16}, logger, tr, feedClient.Ticks())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{}, 2)
	go func() { feedClient.Run(ctx); done <- struct{}{} }()
	go func() { proc.Run(ctx); done <- struct{}{} }()
	t.Cleanup(func() {
		cancel()
		<-done
		<-done
	})

	router := httpapi.NewRouter(httpapi.Deps{
		Sessions: gateway.NewServer(wsHub, tr, logger),
		News:     httpapi.NewNewsHandler(news.NewService(feedClient, 3, logger), 10, logger),
		Store:    store,
		Metrics:  promReg,
		Logger:   logger,
	})
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	eventually(t, "feed never connected", feedClient.Connected)
	return &stack{server: server, mr: mr, sim: sim}
}

func eventually(t *testing.T, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for: %s", msg)
}

func connectWS(t *testing.T, serverURL string) (*websocket.Conn, string) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(serverURL, "http") + "/ws"
	wsConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to connect to websocket: %v", err)
	}
	hello := readUntil(t, wsConn, func(r protocol.WSResponse) bool { return r.Type == protocol.TypeSession })
	return wsConn, hello.Data.(string)
}

func readUntil(t *testing.T, conn *websocket.Conn, match func(protocol.WSResponse) bool) protocol.WSResponse {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	for {
		var resp protocol.WSResponse
		if err := conn.ReadJSON(&resp); err != nil {
			t.Fatalf("read failed while waiting for frame: %v", err)
		}
		if match(resp) {
			return resp
		}
	}
}

func priceFrame(symbol string, price float64) func(protocol.WSResponse) bool {
	return func(r protocol.WSResponse) bool {
		return r.Type == protocol.TypeMessage && r.Topic == protocol.PriceTopic(symbol) && r.Data == price
	}
}

func track(t *testing.T, conn *websocket.Conn, current, next, id string) {
	t.Helper()
	err := conn.WriteJSON(protocol.WSRequest{Action: protocol.ActionTrack, CurrentSymbol: current, NewSymbol: next, ID: id})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
}

func subscribeControls(sim *feedsim.Server, symbol string) int {
	n := 0
	for _, c := range sim.Controls() {
		if c.Type == models.FrameSubscribe && c.Symbol == symbol {
			n++
		}
	}
	return n
}

func TestEndToEnd_FullFlow(t *testing.T) {
	s := startStack(t)

	c1, id1 := connectWS(t, s.server.URL)
	defer c1.Close()

	// 1. Cold symbol: quote fetched, cached, subscribed upstream
	track(t, c1, "", "aapl", "t1")
	readUntil(t, c1, priceFrame("AAPL", 150))
	readUntil(t, c1, func(r protocol.WSResponse) bool { return r.ID == "t1" && r.Status == "success" })

	eventually(t, "AAPL not subscribed upstream", func() bool { return subscribeControls(s.sim, "AAPL") == 1 })
	if v, _ := s.mr.Get("stock:AAPL"); v != "150" {
		t.Errorf("expected cached 150, got %q", v)
	}

	// 2. Live trade flows through the processor to the session
	s.sim.PublishTrades(models.TradeData{Symbol: "AAPL", Price: 151.5, Timestamp: 1700000001000, Volume: 3})
	readUntil(t, c1, priceFrame("AAPL", 151.5))
	eventually(t, "tick not cached", func() bool {
		v, _ := s.mr.Get("stock:AAPL")
		return v == "151.5"
	})

	// 3. Second viewer reuses the cache and the upstream subscription
	c2, _ := connectWS(t, s.server.URL)
	defer c2.Close()
	track(t, c2, "", "AAPL", "t2")
	readUntil(t, c2, priceFrame("AAPL", 151.5))
	if n := subscribeControls(s.sim, "AAPL"); n != 1 {
		t.Errorf("expected a single upstream subscribe, got %d", n)
	}

	// 4. Unknown symbol surfaces on the session's error topic
	track(t, c1, "AAPL", "XXXX", "t3")
	errFrame := readUntil(t, c1, func(r protocol.WSResponse) bool { return r.Topic == protocol.ErrorTopic(id1) })
	if errFrame.Data != "Symbol [XXXX] not found" {
		t.Errorf("unexpected error payload %v", errFrame.Data)
	}
	if s.mr.Exists("stock:XXXX") {
		t.Error("invalid symbol must not be cached")
	}

	// 5. Last viewer disconnects: evicted and unsubscribed upstream
	c2.Close()
	eventually(t, "AAPL not released upstream", func() bool {
		for _, sym := range s.sim.Subscribed() {
			if sym == "AAPL" {
				return false
			}
		}
		return true
	})
	eventually(t, "AAPL not evicted", func() bool { return !s.mr.Exists("stock:AAPL") })
}

func TestEndToEnd_CompanyNews(t *testing.T) {
	s := startStack(t)

	resp, err := http.Get(s.server.URL + "/company-news?symbol=aapl&pageNo=0&pageSize=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var page news.Page[models.NewsItem]
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		t.Fatal(err)
	}
	if len(page.Content) != 2 || page.TotalElements != 3 || page.TotalPages != 2 || page.Last {
		t.Errorf("unexpected page %+v", page)
	}
}

func TestEndToEnd_Health(t *testing.T) {
	s := startStack(t)

	resp, err := http.Get(s.server.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
}
