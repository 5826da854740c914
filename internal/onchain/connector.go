package onchain

import (
	"context"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/fuzzland/ityfuzz-go/internal/evmtypes"
)

// Connector fetches on-chain state for addresses the fuzzer encounters but
// hasn't forked/recorded locally, spec §4.I. It satisfies
// middleware.Connector's consumed interface structurally.
type Connector struct {
	client  *RPCClient
	cache   *Cache
	limiter *rate.Limiter
	sf      singleflight.Group

	blockTag string // "latest" or a hex block number, pinned for a whole campaign
}

// Config controls connector construction.
type Config struct {
	RPCEndpoint   string
	BlockNumber   uint64 // 0 means "latest"
	RequestsPerSecond float64
	Burst         int
	HotCacheBytes int
	WarmEntries   int
	DBPath        string // empty disables persistent caching
}

func New(cfg Config) (*Connector, error) {
	cache, err := NewCache(orDefault(cfg.HotCacheBytes, 32<<20), orDefault(cfg.WarmEntries, 4096), cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("onchain: cache init: %w", err)
	}
	tag := "latest"
	if cfg.BlockNumber != 0 {
		tag = "0x" + strconv.FormatUint(cfg.BlockNumber, 16)
	}
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 20
	}
	return &Connector{
		client:   NewRPCClient(cfg.RPCEndpoint),
		cache:    cache,
		limiter:  rate.NewLimiter(rate.Limit(rps), burst),
		blockTag: tag,
	}, nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (c *Connector) fetch(ctx context.Context, key string, fn func(context.Context) ([]byte, error)) ([]byte, error) {
	if v, ok := c.cache.Get([]byte(key)); ok {
		return v, nil
	}
	v, err, _ := c.sf.Do(key, func() (interface{}, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		if v, ok := c.cache.Get([]byte(key)); ok {
			return v, nil
		}
		raw, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		c.cache.Set([]byte(key), raw)
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

// FetchSlot satisfies middleware.Connector; it is the hot path hit on
// every SLOAD miss.
func (c *Connector) FetchSlot(addr evmtypes.Address, slot evmtypes.U256) (evmtypes.U256, error) {
	key := fmt.Sprintf("slot:%s:%s:%s", addr.Hex(), slot.Hex(), c.blockTag)
	raw, err := c.fetch(context.Background(), key, func(ctx context.Context) ([]byte, error) {
		var out string
		if err := c.client.Call(ctx, &out, "eth_getStorageAt", addr.Hex(), slot.Hex(), c.blockTag); err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		return evmtypes.U256{}, err
	}
	var u evmtypes.U256
	if err := u.SetFromHex(string(raw)); err != nil {
		return evmtypes.U256{}, fmt.Errorf("onchain: parse storage word: %w", err)
	}
	return u, nil
}

// FetchCode satisfies middleware.Connector.
func (c *Connector) FetchCode(addr evmtypes.Address) ([]byte, error) {
	key := fmt.Sprintf("code:%s:%s", addr.Hex(), c.blockTag)
	raw, err := c.fetch(context.Background(), key, func(ctx context.Context) ([]byte, error) {
		var out string
		if err := c.client.Call(ctx, &out, "eth_getCode", addr.Hex(), c.blockTag); err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		return nil, err
	}
	return hex.DecodeString(strings.TrimPrefix(string(raw), "0x"))
}

// FetchBalance satisfies middleware.Connector.
func (c *Connector) FetchBalance(addr evmtypes.Address) (evmtypes.U256, error) {
	key := fmt.Sprintf("balance:%s:%s", addr.Hex(), c.blockTag)
	raw, err := c.fetch(context.Background(), key, func(ctx context.Context) ([]byte, error) {
		var out string
		if err := c.client.Call(ctx, &out, "eth_getBalance", addr.Hex(), c.blockTag); err != nil {
			return nil, err
		}
		return []byte(out), nil
	})
	if err != nil {
		return evmtypes.U256{}, err
	}
	var u evmtypes.U256
	if err := u.SetFromHex(string(raw)); err != nil {
		return evmtypes.U256{}, fmt.Errorf("onchain: parse balance: %w", err)
	}
	return u, nil
}

// FetchABI fetches a contract's verified ABI JSON from a block explorer
// API, spec §4.I's fetch_abi. Returns ("", nil) when unverified, matching
// the original's Option<String> semantics.
func (c *Connector) FetchABI(ctx context.Context, explorerAPI, apiKey string, addr evmtypes.Address) (string, error) {
	if explorerAPI == "" {
		return "", nil
	}
	url := fmt.Sprintf("%s?module=contract&action=getabi&address=%s&apikey=%s", explorerAPI, addr.Hex(), apiKey)
	var resp struct {
		Status  string `json:"status"`
		Message string `json:"message"`
		Result  string `json:"result"`
	}
	if err := httpGetJSON(ctx, c.client.HTTP, url, &resp); err != nil {
		return "", err
	}
	if resp.Status != "1" {
		return "", nil
	}
	return resp.Result, nil
}

// FetchBlockTimestamp is spec §4.I's fetch_blk_timestamp.
func (c *Connector) FetchBlockTimestamp(ctx context.Context) (uint64, error) {
	blk, err := c.blockByTag(ctx)
	if err != nil {
		return 0, err
	}
	return parseHexUint(blk.Timestamp)
}

// FetchBlockCoinbase is spec §4.I's fetch_blk_coinbase.
func (c *Connector) FetchBlockCoinbase(ctx context.Context) (evmtypes.Address, error) {
	blk, err := c.blockByTag(ctx)
	if err != nil {
		return evmtypes.Address{}, err
	}
	var addr evmtypes.Address
	if err := addr.UnmarshalText([]byte(blk.Miner)); err != nil {
		return evmtypes.Address{}, err
	}
	return addr, nil
}

// FetchBlockGasLimit is spec §4.I's fetch_blk_gaslimit.
func (c *Connector) FetchBlockGasLimit(ctx context.Context) (uint64, error) {
	blk, err := c.blockByTag(ctx)
	if err != nil {
		return 0, err
	}
	return parseHexUint(blk.GasLimit)
}

// FetchBlockHash is spec §4.I's fetch_blk_hash.
func (c *Connector) FetchBlockHash(ctx context.Context) (evmtypes.Hash, error) {
	blk, err := c.blockByTag(ctx)
	if err != nil {
		return evmtypes.Hash{}, err
	}
	var h evmtypes.Hash
	if err := h.UnmarshalText([]byte(blk.Hash)); err != nil {
		return evmtypes.Hash{}, err
	}
	return h, nil
}

type rpcBlock struct {
	Timestamp string `json:"timestamp"`
	Miner     string `json:"miner"`
	GasLimit  string `json:"gasLimit"`
	Hash      string `json:"hash"`
}

func (c *Connector) blockByTag(ctx context.Context) (*rpcBlock, error) {
	key := "block:" + c.blockTag
	raw, err := c.fetch(ctx, key, func(ctx context.Context) ([]byte, error) {
		var blk rpcBlock
		if err := c.client.Call(ctx, &blk, "eth_getBlockByNumber", c.blockTag, false); err != nil {
			return nil, err
		}
		return encodeBlock(blk), nil
	})
	if err != nil {
		return nil, err
	}
	return decodeBlock(raw)
}

func parseHexUint(s string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, 64)
}
