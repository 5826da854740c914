// Package onchain implements the on-chain state connector (spec §4.I):
// lazily fetching code, storage slots and balances from a live RPC
// endpoint, layered behind a hot/warm/cold cache and rate-limited so a
// fuzzing campaign doesn't hammer a public node.
package onchain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/fuzzland/ityfuzz-go/internal/ilog"
)

var log = ilog.New("component", "onchain")

// rpcRequest/rpcResponse are the minimal JSON-RPC 2.0 envelope; a
// dedicated RPC client library isn't part of the example corpus's stack,
// and go-ethereum-family nodes speak plain JSON-RPC over HTTP, so a small
// net/http + encoding/json client is the idiomatic choice here rather than
// reimplementing a websocket/ipc-capable client this fuzzer never needs.
type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("onchain: rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// RPCClient is a bare JSON-RPC-over-HTTP client for eth_* calls.
type RPCClient struct {
	Endpoint string
	HTTP     *http.Client
	idSeq    uint64
}

func NewRPCClient(endpoint string) *RPCClient {
	return &RPCClient{
		Endpoint: endpoint,
		HTTP:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Call issues a single JSON-RPC method call and unmarshals the result into
// out (a pointer), per the chain-agnostic eth_call/eth_getStorageAt/etc
// shapes every EVM-compatible endpoint exposes.
func (c *RPCClient) Call(ctx context.Context, out interface{}, method string, params ...interface{}) error {
	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      atomic.AddUint64(&c.idSeq, 1),
		Method:  method,
		Params:  params,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("onchain: encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("onchain: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(httpReq)
	if err != nil {
		return fmt.Errorf("onchain: %s: %w", method, err)
	}
	defer resp.Body.Close()

	var rpcResp rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return fmt.Errorf("onchain: decode %s response: %w", method, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("onchain: decode %s result: %w", method, err)
	}
	return nil
}
