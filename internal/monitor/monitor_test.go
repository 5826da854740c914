package monitor

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	"github.com/julienschmidt/httprouter"

	"github.com/fuzzland/ityfuzz-go/internal/fuzzer"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	campaign := &fuzzer.Campaign{Executions: 42, BugHit: true, LastBugIDs: []uint64{0, 5}}
	parsedSchema := graphql.MustParseSchema(schema, &resolver{campaign: campaign})

	router := httprouter.New()
	router.Handler(http.MethodPost, "/graphql", &relay.Handler{Schema: parsedSchema})
	return httptest.NewServer(router)
}

func TestGraphQLStatsQuery(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	body := []byte(`{"query":"{ stats { executions bugHit lastBugIds } }"}`)
	resp, err := http.Post(srv.URL+"/graphql", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()

	var out struct {
		Data struct {
			Stats struct {
				Executions float64 `json:"executions"`
				BugHit     bool    `json:"bugHit"`
				LastBugIds []int32 `json:"lastBugIds"`
			} `json:"stats"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Data.Stats.Executions != 42 {
		t.Fatalf("expected 42 executions, got %v", out.Data.Stats.Executions)
	}
	if !out.Data.Stats.BugHit {
		t.Fatalf("expected bugHit true")
	}
	if len(out.Data.Stats.LastBugIds) != 2 {
		t.Fatalf("expected 2 bug ids, got %v", out.Data.Stats.LastBugIds)
	}
}

func TestSnapshotConvertsBugIDs(t *testing.T) {
	c := &fuzzer.Campaign{Executions: 7, LastBugIDs: []uint64{1, 2, 3}}
	s := snapshot(c)
	if s.Executions != 7 {
		t.Fatalf("expected 7 executions, got %d", s.Executions)
	}
	if len(s.LastBugIDs) != 3 {
		t.Fatalf("expected 3 bug ids, got %d", len(s.LastBugIDs))
	}
}
