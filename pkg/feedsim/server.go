// Package feedsim is a Finnhub-compatible market-data simulator used for
// local development and tests.
package feedsim

import (
	"encoding/json"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"go.uber.org/zap"

	"github.com/shubham-shewale/stock-tracker/pkg/models"
)

var _ TradeSource = (*Server)(nil)

type peer struct {
	conn net.Conn
	mu   sync.Mutex // serializes writes
	subs map[string]bool
}

func (p *peer) write(b []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return wsutil.WriteServerText(p.conn, b)
}

type Server struct {
	logger *zap.Logger
	token  string
	mux    *http.ServeMux

	mu       sync.Mutex
	peers    map[*peer]struct{}
	quotes   map[string]models.Quote
	news     map[string][]models.NewsItem
	controls []models.ControlMessage
}

// NewServer creates a simulator. An empty token accepts any client.
func NewServer(logger *zap.Logger, token string) *Server {
	s := &Server{
		logger: logger,
		token:  token,
		mux:    http.NewServeMux(),
		peers:  make(map[*peer]struct{}),
		quotes: make(map[string]models.Quote),
		news:   make(map[string][]models.NewsItem),
	}
	s.mux.HandleFunc("/quote", s.handleQuote)
	s.mux.HandleFunc("/company-news", s.handleNews)
	s.mux.HandleFunc("/", s.handleStream)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && r.URL.Query().Get("token") != s.token {
		http.Error(w, `{"error":"Invalid API key"}`, http.StatusUnauthorized)
		return
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) SetQuote(symbol string, q models.Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[models.NormalizeSymbol(symbol)] = q
}

func (s *Server) SetNews(symbol string, items []models.NewsItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.news[models.NormalizeSymbol(symbol)] = items
}

// Subscribed returns the union of symbols subscribed by connected clients.
func (s *Server) Subscribed() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := make(map[string]bool)
	for p := range s.peers {
		for sym := range p.subs {
			set[sym] = true
		}
	}
	out := make([]string, 0, len(set))
	for sym := range set {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}

// Controls returns every subscribe/unsubscribe message received so far.
func (s *Server) Controls() []models.ControlMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ControlMessage(nil), s.controls...)
}

func (s *Server) Peers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.peers)
}

// PublishTrades sends each connected client one trade frame holding the
// trades for symbols it subscribed to, and moves the quotes along.
func (s *Server) PublishTrades(trades ...models.TradeData) {
	type delivery struct {
		p     *peer
		frame []byte
	}
	var out []delivery

	s.mu.Lock()
	for _, t := range trades {
		if q, ok := s.quotes[t.Symbol]; ok {
			q.Current = t.Price
			q.Timestamp = t.Timestamp / 1000
			s.quotes[t.Symbol] = q
		}
	}
	for p := range s.peers {
		var data []models.TradeData
		for _, t := range trades {
			if p.subs[t.Symbol] {
				data = append(data, t)
			}
		}
		if len(data) == 0 {
			continue
		}
		frame, _ := json.Marshal(models.TradeMessage{Type: models.FrameTrade, Data: data})
		out = append(out, delivery{p: p, frame: frame})
	}
	s.mu.Unlock()

	for _, d := range out {
		if err := d.p.write(d.frame); err != nil {
			s.logger.Debug("Dropping trade frame", zap.Error(err))
		}
	}
}

// DropConnections closes every client connection, simulating a provider outage.
func (s *Server) DropConnections() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for p := range s.peers {
		p.conn.Close()
	}
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	sym := models.NormalizeSymbol(r.URL.Query().Get("symbol"))

	s.mu.Lock()
	q := s.quotes[sym] // unknown symbols get the all-zero quote, like the real provider
	s.mu.Unlock()

	writeJSON(w, q)
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	sym := models.NormalizeSymbol(r.URL.Query().Get("symbol"))

	s.mu.Lock()
	items := s.news[sym]
	s.mu.Unlock()

	if items == nil {
		items = []models.NewsItem{}
	}
	writeJSON(w, items)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return
	}

	p := &peer{conn: conn, subs: make(map[string]bool)}
	s.mu.Lock()
	s.peers[p] = struct{}{}
	s.mu.Unlock()

	go s.readPump(p)
}

func (s *Server) readPump(p *peer) {
	defer func() {
		s.mu.Lock()
		delete(s.peers, p)
		s.mu.Unlock()
		p.conn.Close()
	}()

	for {
		msg, op, err := wsutil.ReadClientData(p.conn)
		if err != nil {
			return
		}
		if op != ws.OpText {
			continue
		}

		var ctrl models.ControlMessage
		if err := json.Unmarshal(msg, &ctrl); err != nil {
			p.write([]byte(`{"type":"error","msg":"Invalid message"}`))
			continue
		}
		ctrl.Symbol = models.NormalizeSymbol(ctrl.Symbol)

		s.mu.Lock()
		switch ctrl.Type {
		case models.FrameSubscribe:
			p.subs[ctrl.Symbol] = true
		case models.FrameUnsubscribe:
			delete(p.subs, ctrl.Symbol)
		}
		s.controls = append(s.controls, ctrl)
		s.mu.Unlock()
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
