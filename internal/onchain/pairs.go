package onchain

import (
	"context"
	"fmt"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// PairData is one discovered trading pair for a token, spec §4.I's
// get_pair, grounded on the original's PairData/GetPairResponse shapes
// (endpoints.rs): enough for the mutator's swap-path construction to pick
// a router/path without re-deriving reserves from scratch each time.
type PairData struct {
	Source     string // DEX identifier, e.g. "uniswap_v2"
	Pair       evmtypes.Address
	InToken    evmtypes.Address
	Token0     evmtypes.Address
	Token1     evmtypes.Address
	Decimals0  uint32
	Decimals1  uint32
	Reserve0   evmtypes.U256
	Reserve1   evmtypes.U256
}

type pairSubgraphResponse struct {
	Data struct {
		P0 []pairSubgraphEntry `json:"p0"`
		P1 []pairSubgraphEntry `json:"p1"`
	} `json:"data"`
}

type pairSubgraphEntry struct {
	ID     string                 `json:"id"`
	Token0 pairSubgraphTokenEntry `json:"token0"`
	Token1 pairSubgraphTokenEntry `json:"token1"`
}

type pairSubgraphTokenEntry struct {
	ID       string `json:"id"`
	Decimals string `json:"decimals"`
}

// GetPair queries a Uniswap-v2-style subgraph for pairs involving token,
// spec §4.I's get_pair. subgraphURL is a GraphQL HTTP endpoint; the query
// itself is intentionally minimal — token0/token1 id+decimals only — since
// reserves are re-fetched live via FetchSlot rather than trusted from the
// subgraph snapshot.
func (c *Connector) GetPair(ctx context.Context, subgraphURL string, token evmtypes.Address) ([]PairData, error) {
	if subgraphURL == "" {
		return nil, nil
	}
	query := fmt.Sprintf(`{"query":"{ p0: pairs(where:{token0:\"%s\"}) { id token0 { id decimals } token1 { id decimals } } p1: pairs(where:{token1:\"%s\"}) { id token0 { id decimals } token1 { id decimals } } }"}`,
		token.Hex(), token.Hex())

	var resp pairSubgraphResponse
	if err := httpPostJSON(ctx, c.client.HTTP, subgraphURL, query, &resp); err != nil {
		return nil, err
	}

	var out []PairData
	for _, e := range append(resp.Data.P0, resp.Data.P1...) {
		pd, err := toPairData(e)
		if err != nil {
			log.Warn("onchain: skipping malformed subgraph pair", "id", e.ID, "err", err)
			continue
		}
		pd.InToken = token
		out = append(out, pd)
	}
	return out, nil
}

func toPairData(e pairSubgraphEntry) (PairData, error) {
	var pair, t0, t1 evmtypes.Address
	if err := pair.UnmarshalText([]byte(e.ID)); err != nil {
		return PairData{}, err
	}
	if err := t0.UnmarshalText([]byte(e.Token0.ID)); err != nil {
		return PairData{}, err
	}
	if err := t1.UnmarshalText([]byte(e.Token1.ID)); err != nil {
		return PairData{}, err
	}
	return PairData{Pair: pair, Token0: t0, Token1: t1}, nil
}

// GetV3Fee is spec §4.I's get_v3_fee: a Uniswap-v3 pool exposes its fee
// tier via the `fee()` view, selector 0xddca3f43.
func (c *Connector) GetV3Fee(ctx context.Context, pool evmtypes.Address) (uint32, error) {
	sel := evmtypes.Selector("fee()")
	key := fmt.Sprintf("v3fee:%s:%s", pool.Hex(), c.blockTag)
	raw, err := c.fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		var out string
		callObj := map[string]string{"to": pool.Hex(), "data": "0x" + hexString(sel[:])}
		if err := c.client.Call(ctx, &out, "eth_call", callObj, c.blockTag); err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		return 0, err
	}
	var u evmtypes.U256
	if err := u.SetFromHex(string(raw)); err != nil {
		return 0, fmt.Errorf("onchain: parse v3 fee: %w", err)
	}
	return uint32(u.Uint64()), nil
}

func hexString(b []byte) string {
	const digits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = digits[c>>4]
		out[i*2+1] = digits[c&0xf]
	}
	return string(out)
}
