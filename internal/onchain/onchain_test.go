package onchain

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

func newTestServer(t *testing.T, handler func(method string, params json.RawMessage) interface{}) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("bad request: %v", err)
		}
		paramsRaw, _ := json.Marshal(req.Params)
		result := handler(req.Method, paramsRaw)
		resp := rpcResponse{ID: req.ID}
		resp.Result, _ = json.Marshal(result)
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func TestRPCClientCall(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) interface{} {
		if method != "eth_getBalance" {
			t.Fatalf("unexpected method %q", method)
		}
		return "0x64"
	})
	defer srv.Close()

	c := NewRPCClient(srv.URL)
	var out string
	if err := c.Call(context.Background(), &out, "eth_getBalance", "0xabc", "latest"); err != nil {
		t.Fatalf("call: %v", err)
	}
	if out != "0x64" {
		t.Fatalf("expected 0x64, got %q", out)
	}
}

func TestConnectorFetchBalanceCachesResult(t *testing.T) {
	calls := 0
	srv := newTestServer(t, func(method string, params json.RawMessage) interface{} {
		calls++
		return "0x64"
	})
	defer srv.Close()

	conn, err := New(Config{RPCEndpoint: srv.URL, RequestsPerSecond: 1000, Burst: 1000})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	addr := evmtypes.BytesToAddress([]byte{1, 2, 3})

	for i := 0; i < 3; i++ {
		bal, err := conn.FetchBalance(addr)
		if err != nil {
			t.Fatalf("fetch balance: %v", err)
		}
		if bal.Uint64() != 100 {
			t.Fatalf("expected balance 100, got %d", bal.Uint64())
		}
	}
	if calls != 1 {
		t.Fatalf("expected the cache to collapse repeated fetches to 1 rpc call, got %d", calls)
	}
}

func TestConnectorFetchCodeDecodesHex(t *testing.T) {
	srv := newTestServer(t, func(method string, params json.RawMessage) interface{} {
		return "0x6001600201"
	})
	defer srv.Close()

	conn, err := New(Config{RPCEndpoint: srv.URL, RequestsPerSecond: 1000, Burst: 1000})
	if err != nil {
		t.Fatalf("new connector: %v", err)
	}
	code, err := conn.FetchCode(evmtypes.Address{})
	if err != nil {
		t.Fatalf("fetch code: %v", err)
	}
	want := []byte{0x60, 0x01, 0x60, 0x02, 0x01}
	if len(code) != len(want) {
		t.Fatalf("expected %d bytes, got %d", len(want), len(code))
	}
	for i := range want {
		if code[i] != want[i] {
			t.Fatalf("byte %d: expected %x, got %x", i, want[i], code[i])
		}
	}
}
