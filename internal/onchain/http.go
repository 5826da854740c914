package onchain

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

func httpGetJSON(ctx context.Context, client *http.Client, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("onchain: build http request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("onchain: http get: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("onchain: decode http response: %w", err)
	}
	return nil
}

func httpPostJSON(ctx context.Context, client *http.Client, url, body string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body))
	if err != nil {
		return fmt.Errorf("onchain: build http request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("onchain: http post: %w", err)
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("onchain: decode http response: %w", err)
	}
	return nil
}

func encodeBlock(b rpcBlock) []byte {
	raw, _ := json.Marshal(b)
	return raw
}

func decodeBlock(raw []byte) (*rpcBlock, error) {
	var b rpcBlock
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("onchain: decode cached block: %w", err)
	}
	return &b, nil
}
