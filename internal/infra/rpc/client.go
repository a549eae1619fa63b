package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vietddude/explorer/internal/core/domain"
	"github.com/vietddude/explorer/internal/indexing/metrics"
)

// balanceOfSelector is keccak256("balanceOf(address)")[:4].
const balanceOfSelector = "0x70a08231"

// Messages some providers return with HTTP 200 when a key is over quota.
var throttlePatterns = []string{
	"rate limit exceeded",
	"too many requests",
	"daily request count exceeded",
	"project rate limit",
	"monthly quota exceeded",
}

// Error is a JSON-RPC error object returned by the node.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Client talks JSON-RPC 2.0 over HTTP to a single endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
	nextID     atomic.Uint64
	log        *slog.Logger
}

// NewClient creates a client for endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		log: slog.Default().With("component", "rpc"),
	}
}

// Endpoint returns the node URL.
func (c *Client) Endpoint() string {
	return c.endpoint
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}

// Call makes a single JSON-RPC call and decodes the result into result.
// A JSON null result leaves result untouched.
func (c *Client) Call(ctx context.Context, method string, params []any, result any) error {
	start := time.Now()
	metrics.RPCCallsTotal.WithLabelValues(method).Inc()

	err := c.call(ctx, method, params, result)

	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RPCErrorsTotal.WithLabelValues(method, errorType(err)).Inc()
		c.log.Debug("RPC call failed", "method", method, "error", err)
	}
	return err
}

func (c *Client) call(ctx context.Context, method string, params []any, result any) error {
	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call: %w", err)
	}
	defer resp.Body.Close()

	// Rate limit detection
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("rate limited (429), retry after: %s", resp.Header.Get("Retry-After"))
	}

	// IP blocked detection
	if resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("ip blocked (403)")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		if isThrottled(string(body)) {
			return fmt.Errorf("throttle detected in response: %s", string(body))
		}
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("parse response: %w", err)
	}
	if rpcResp.Error != nil {
		if isThrottled(rpcResp.Error.Message) {
			return fmt.Errorf("throttle in rpc error: %s", rpcResp.Error.Message)
		}
		return rpcResp.Error
	}

	if result == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return fmt.Errorf("decode %s result: %w", method, err)
	}
	return nil
}

type rpcHeader struct {
	Number    *hexutil.Uint64 `json:"number"`
	Hash      string          `json:"hash"`
	Timestamp hexutil.Uint64  `json:"timestamp"`
}

// LatestBlock returns the chain tip.
func (c *Client) LatestBlock(ctx context.Context) (*domain.BlockHeader, error) {
	var raw *rpcHeader
	if err := c.Call(ctx, "eth_getBlockByNumber", []any{"latest", false}, &raw); err != nil {
		return nil, fmt.Errorf("eth_getBlockByNumber failed: %w", err)
	}
	if raw == nil || raw.Number == nil {
		return nil, fmt.Errorf("eth_getBlockByNumber returned no block")
	}
	return &domain.BlockHeader{
		Number:    int64(*raw.Number),
		Hash:      strings.ToLower(raw.Hash),
		Timestamp: time.Unix(int64(raw.Timestamp), 0).UTC(),
	}, nil
}

// GetCode returns the runtime bytecode at address, "0x" when there is none.
func (c *Client) GetCode(ctx context.Context, address string) (string, error) {
	var code string
	if err := c.Call(ctx, "eth_getCode", []any{address, "latest"}, &code); err != nil {
		return "", fmt.Errorf("eth_getCode failed: %w", err)
	}
	if code == "" {
		code = "0x"
	}
	return code, nil
}

// TraceTransaction returns the struct logs of a transaction with memory enabled.
func (c *Client) TraceTransaction(ctx context.Context, hash string) ([]domain.StructLog, error) {
	var raw struct {
		StructLogs []domain.StructLog `json:"structLogs"`
	}
	opts := map[string]any{"enableMemory": true, "disableStorage": true}
	if err := c.Call(ctx, "debug_traceTransaction", []any{hash, opts}, &raw); err != nil {
		return nil, fmt.Errorf("debug_traceTransaction failed: %w", err)
	}
	return raw.StructLogs, nil
}

// GetBalance returns the native balance of address at block as a decimal string.
func (c *Client) GetBalance(ctx context.Context, address string, block int64) (string, error) {
	var balance hexutil.Big
	if err := c.Call(ctx, "eth_getBalance", []any{address, blockTag(block)}, &balance); err != nil {
		return "", fmt.Errorf("eth_getBalance failed: %w", err)
	}
	return balance.ToInt().String(), nil
}

// BalanceOf calls ERC-20 balanceOf(holder) on token at block and returns a decimal string.
func (c *Client) BalanceOf(ctx context.Context, token, holder string, block int64) (string, error) {
	data := balanceOfSelector + common.Bytes2Hex(common.LeftPadBytes(common.HexToAddress(holder).Bytes(), 32))
	call := map[string]any{"to": token, "data": data}

	var out string
	if err := c.Call(ctx, "eth_call", []any{call, blockTag(block)}, &out); err != nil {
		return "", fmt.Errorf("eth_call balanceOf failed: %w", err)
	}
	return new(big.Int).SetBytes(common.FromHex(out)).String(), nil
}

func blockTag(block int64) string {
	if block < 0 {
		return "latest"
	}
	return hexutil.EncodeUint64(uint64(block))
}

func isThrottled(message string) bool {
	lower := strings.ToLower(message)
	for _, pattern := range throttlePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

func errorType(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "429"), strings.Contains(msg, "throttle"):
		return "rate_limit"
	case strings.Contains(msg, "403"):
		return "blocked"
	case strings.Contains(msg, "rpc error"):
		return "rpc"
	case strings.Contains(msg, "deadline exceeded"), strings.Contains(msg, "Timeout"):
		return "timeout"
	default:
		return "transport"
	}
}
