package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// RequestOptions describes one outbound request. Body can be raw bytes, a
// string, an io.Reader, url.Values for form posts, or any JSON-marshalable
// value.
type RequestOptions struct {
	Method      string
	URL         string
	Headers     map[string]string
	QueryParams url.Values
	Body        interface{}
}

// Client is a JSON-first wrapper over net/http for outbound REST calls.
type Client struct {
	hc *http.Client
}

type ClientOption func(*Client)

func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.hc.Timeout = d }
}

func NewClient(opts ...ClientOption) *Client {
	c := &Client{hc: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do sends the request and returns the raw response. The caller owns the
// body.
func (c *Client) Do(ctx context.Context, o *RequestOptions) (*http.Response, error) {
	req, err := c.build(ctx, o)
	if err != nil {
		return nil, err
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", o.Method, o.URL, err)
	}
	return resp, nil
}

// SendAndParse sends the request and decodes a 2xx response into dest.
// A *[]byte dest receives the raw body, an io.Writer gets it streamed, and
// anything else is JSON-decoded. A nil dest discards the body.
func (c *Client) SendAndParse(ctx context.Context, o *RequestOptions, dest interface{}) error {
	resp, err := c.Do(ctx, o)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return fmt.Errorf("%s %s: status %d: %s", o.Method, o.URL, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	switch v := dest.(type) {
	case nil:
		return nil
	case *[]byte:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		*v = data
	case io.Writer:
		if _, err := io.Copy(v, resp.Body); err != nil {
			return fmt.Errorf("copy body: %w", err)
		}
	default:
		if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func (c *Client) build(ctx context.Context, o *RequestOptions) (*http.Request, error) {
	body, contentType, err := encodeBody(o.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, o.Method, o.URL, body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	if len(o.QueryParams) > 0 {
		// Merge with any query already present in the URL.
		q := req.URL.Query()
		for key, values := range o.QueryParams {
			for _, value := range values {
				q.Add(key, value)
			}
		}
		req.URL.RawQuery = q.Encode()
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for key, value := range o.Headers {
		req.Header.Set(key, value)
	}

	return req, nil
}

func encodeBody(body interface{}) (io.Reader, string, error) {
	switch v := body.(type) {
	case nil:
		return nil, "", nil
	case io.Reader:
		return v, "", nil
	case []byte:
		return bytes.NewReader(v), "", nil
	case string:
		return strings.NewReader(v), "", nil
	case url.Values:
		return strings.NewReader(v.Encode()), "application/x-www-form-urlencoded", nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, "", fmt.Errorf("marshal body: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}
