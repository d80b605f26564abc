package coordination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"

	"github.com/giantswarm/clusterenv/internal/descriptor"
	"github.com/giantswarm/clusterenv/internal/embedded/httpserve"
)

// defaultClientTimeout bounds one request to one member.
const defaultClientTimeout = 5 * time.Second

// Client talks to a coordination tier through its descriptor.
type Client struct {
	addrs []string
	http  *http.Client
}

// NewClient parses desc. A nil hc uses a client with a short timeout.
func NewClient(desc string, hc *http.Client) (*Client, error) {
	addrs, err := descriptor.Addresses(desc)
	if err != nil {
		return nil, fmt.Errorf("coordination client: %w", err)
	}
	if hc == nil {
		hc = &http.Client{Timeout: defaultClientTimeout}
	}
	return &Client{addrs: addrs, http: hc}, nil
}

// Put sets key to value. Keys start with "/".
func (c *Client) Put(ctx context.Context, key, value string) (Entry, error) {
	var e Entry
	if err := c.do(ctx, http.MethodPut, keyPath(key), putRequest{Value: value}, &e); err != nil {
		return Entry{}, fmt.Errorf("put %s: %w", key, err)
	}
	return e, nil
}

// Get returns the entry for key; a missing key matches ErrNotFound.
func (c *Client) Get(ctx context.Context, key string) (Entry, error) {
	var e Entry
	if err := c.do(ctx, http.MethodGet, keyPath(key), nil, &e); err != nil {
		return Entry{}, fmt.Errorf("get %s: %w", key, err)
	}
	return e, nil
}

// Delete removes key; a missing key matches ErrNotFound.
func (c *Client) Delete(ctx context.Context, key string) error {
	if err := c.do(ctx, http.MethodDelete, keyPath(key), nil, nil); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// List returns the entries under prefix, ordered by key.
func (c *Client) List(ctx context.Context, prefix string) ([]Entry, error) {
	var resp listResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys?prefix="+url.QueryEscape(prefix), nil, &resp); err != nil {
		return nil, fmt.Errorf("list %q: %w", prefix, err)
	}
	return resp.Entries, nil
}

func keyPath(key string) string {
	return "/v1/keys/" + strings.TrimPrefix(key, "/")
}

// do sends the request to each member in turn until one answers. Transport
// errors move on to the next member; any HTTP response is final.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body []byte
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = b
	}

	var errs []error
	for _, addr := range c.addrs {
		err := c.doOne(ctx, addr, method, path, body, out)
		if err == nil {
			return nil
		}
		var se *statusError
		if errors.As(err, &se) || ctx.Err() != nil {
			return err
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return fmt.Errorf("no coordination member reachable: %w", errors.Join(errs...))
}

func (c *Client) doOne(ctx context.Context, addr, method, path string, body []byte, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, "http://"+addr+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck // body fully read below

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		se := &statusError{Code: resp.StatusCode}
		var eb httpserve.ErrorBody
		if json.Unmarshal(data, &eb) == nil {
			se.Message = eb.Error
		}
		return se
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// statusError is a non-2xx answer from a member.
type statusError struct {
	Code    int
	Message string
}

func (e *statusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("status %d", e.Code)
	}
	return fmt.Sprintf("status %d: %s", e.Code, e.Message)
}

// Is makes a 404 match ErrNotFound.
func (e *statusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}
