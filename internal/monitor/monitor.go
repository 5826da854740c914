// Package monitor exposes a campaign's live stats over a small HTTP
// surface: a websocket stream of stat snapshots and a read-only GraphQL
// query endpoint, spec.md's optional local monitor server.
package monitor

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/fuzzland/ityfuzz-go/internal/fuzzer"
	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var log = ilog.New("component", "monitor")

// Stats is the snapshot shape streamed to websocket clients and served by
// the GraphQL query, read directly off a live Campaign without locking
// (the campaign's counters are plain fields updated from a single
// fuzzing goroutine, so a snapshot read here only ever races benignly with
// an in-flight increment).
type Stats struct {
	Executions uint64
	BugHit     bool
	LastBugIDs []int32
}

func snapshot(c *fuzzer.Campaign) Stats {
	ids := make([]int32, len(c.LastBugIDs))
	for i, id := range c.LastBugIDs {
		ids[i] = int32(id)
	}
	return Stats{Executions: c.Executions, BugHit: c.BugHit, LastBugIDs: ids}
}

const schema = `
	schema { query: Query }
	type Query {
		stats: Stats!
	}
	type Stats {
		executions: Float!
		bugHit: Boolean!
		lastBugIds: [Int!]!
	}
`

type resolver struct {
	campaign *fuzzer.Campaign
}

type statsResolver struct {
	s Stats
}

func (r *statsResolver) Executions() float64 { return float64(r.s.Executions) }
func (r *statsResolver) BugHit() bool        { return r.s.BugHit }
func (r *statsResolver) LastBugIds() []int32 { return r.s.LastBugIDs }

func (r *resolver) Stats() *statsResolver {
	return &statsResolver{s: snapshot(r.campaign)}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server hosts the monitor endpoints on a single listener: /ws for the
// streaming snapshot, /graphql for one-shot stat queries.
type Server struct {
	campaign *fuzzer.Campaign
	mu       sync.Mutex
	srv      *http.Server
}

func New(campaign *fuzzer.Campaign) *Server {
	return &Server{campaign: campaign}
}

// Start binds addr and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	parsedSchema := graphql.MustParseSchema(schema, &resolver{campaign: s.campaign})

	router := httprouter.New()
	router.Handler(http.MethodGet, "/graphql", &relay.Handler{Schema: parsedSchema})
	router.Handler(http.MethodPost, "/graphql", &relay.Handler{Schema: parsedSchema})
	router.HandlerFunc(http.MethodGet, "/ws", s.handleWS)

	handler := cors.Default().Handler(router)

	s.mu.Lock()
	s.srv = &http.Server{Addr: addr, Handler: handler}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.srv.Close()
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if err := conn.WriteJSON(snapshot(s.campaign)); err != nil {
			log.Debug("websocket client disconnected", "err", err)
			return
		}
	}
}
