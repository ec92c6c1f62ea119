package httpjson

import (
    "bytes"
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "io"
    "net/http"
    "strings"
    "time"

    "github.com/numanode/go-nr/pkg/transport"
)

// Client is a thin HTTP client for the management API with simple retry
// and backoff for robustness.
type Client struct {
    httpc *http.Client
}

// NewClient constructs a new Client with the given timeout.
func NewClient(timeout time.Duration) *Client {
    if timeout <= 0 { timeout = 3 * time.Second }
    return &Client{httpc: &http.Client{Timeout: timeout}}
}

// GetStatus fetches the raw status JSON from addr (host:port).
func (c *Client) GetStatus(ctx context.Context, addr string) ([]byte, error) {
    return c.do(ctx, http.MethodGet, addr, "/status", nil)
}

// GetKey reads one key. A missing key is reported as transport.ErrNotFound.
func (c *Client) GetKey(ctx context.Context, addr, key string) (string, error) {
    b, err := c.do(ctx, http.MethodGet, addr, "/kv/"+key, nil)
    if err != nil { return "", err }
    var out transport.KVResponse
    if err := json.Unmarshal(b, &out); err != nil { return "", err }
    return out.Value, nil
}

// PutKey writes value under key.
func (c *Client) PutKey(ctx context.Context, addr, key, value string) error {
    _, err := c.do(ctx, http.MethodPut, addr, "/kv/"+key, strings.NewReader(value))
    return err
}

// DeleteKey removes key. A missing key is reported as transport.ErrNotFound.
func (c *Client) DeleteKey(ctx context.Context, addr, key string) error {
    _, err := c.do(ctx, http.MethodDelete, addr, "/kv/"+key, nil)
    return err
}

// Keys lists all keys in sorted order.
func (c *Client) Keys(ctx context.Context, addr string) ([]string, error) {
    b, err := c.do(ctx, http.MethodGet, addr, "/kv", nil)
    if err != nil { return nil, err }
    var out transport.KeysResponse
    if err := json.Unmarshal(b, &out); err != nil { return nil, err }
    return out.Keys, nil
}

func (c *Client) do(ctx context.Context, method, addr, path string, body io.Reader) ([]byte, error) {
    var buf []byte
    if body != nil {
        b, err := io.ReadAll(body)
        if err != nil { return nil, err }
        buf = b
    }
    url := fmt.Sprintf("http://%s%s", addr, path)
    var lastErr error
    for attempt := 0; attempt < 3; attempt++ {
        var rdr io.Reader
        if buf != nil { rdr = bytes.NewReader(buf) }
        req, err := http.NewRequestWithContext(ctx, method, url, rdr)
        if err != nil { return nil, err }
        resp, err := c.httpc.Do(req)
        if err != nil {
            lastErr = err
        } else {
            b, readErr := io.ReadAll(resp.Body)
            resp.Body.Close()
            switch {
            case readErr != nil:
                lastErr = readErr
            case resp.StatusCode == http.StatusNotFound:
                // not retryable
                return nil, fmt.Errorf("%w: %s", transport.ErrNotFound, strings.TrimPrefix(path, "/kv/"))
            case resp.StatusCode != http.StatusOK:
                lastErr = fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, string(b))
            default:
                return b, nil
            }
        }
        // backoff unless context is done
        select {
        case <-ctx.Done():
            if lastErr == nil { lastErr = ctx.Err() }
            return nil, lastErr
        case <-time.After(time.Duration(100*(1<<attempt)) * time.Millisecond):
        }
    }
    return nil, lastErr
}

// IsNotFound reports whether err denotes a missing key.
func IsNotFound(err error) bool { return errors.Is(err, transport.ErrNotFound) }
