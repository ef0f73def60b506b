// Package relay forwards one normalized utterance to the remote chat endpoint and validates
// its structured reply.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	chatPath         = "/chat"
	defaultTimeout   = 30 * time.Second
	maxResponseBytes = 1 << 20
)

// Request is the JSON body posted to {baseURL}/chat.
type Request struct {
	UserID      string `json:"user_id"`
	UserMessage string `json:"user_message"`
}

// Reply is the validated reply of the chat endpoint.
type Reply struct {
	ShouldRespond bool   `json:"shouldRespond"`
	ResponseText  string `json:"responseText"`
}

// Sender is the contract the session controller relies on.
type Sender interface {
	Send(ctx context.Context, userID, message string) (Reply, error)
}

// Client posts chat requests over HTTP. It does not retry, cache or deduplicate.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

var _ Sender = (*Client)(nil)

type Option func(*Client) error

// WithHTTPClient uses a copy of hc. Later options change the copy, never hc.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client is nil")
		}
		cp := *hc
		c.httpClient = &cp
		return nil
	}
}

// WithTimeout bounds every relay call, including reading the body.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return nil
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// WithSOCKSProxy routes requests through a SOCKS5 proxy at addr (host:port).
func WithSOCKSProxy(addr string) Option {
	return func(c *Client) error {
		addr = strings.TrimSpace(addr)
		if addr == "" {
			return nil
		}
		transport, err := newSOCKSTransport(addr)
		if err != nil {
			return errors.Wrapf(err, "socks proxy %s", addr)
		}
		c.httpClient.Transport = transport
		return nil
	}
}

// NewClient builds a client for the chat service rooted at baseURL.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("relay: empty chat base url")
	}
	c := &Client{
		endpoint:   baseURL + chatPath,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "relay: apply option")
		}
	}
	return c, nil
}

// Endpoint returns the full chat URL.
func (c *Client) Endpoint() string { return c.endpoint }

// Send issues exactly one POST and returns the validated reply.
// Errors match ErrRelayUnavailable or ErrRelayMalformedResponse.
func (c *Client) Send(ctx context.Context, userID, message string) (Reply, error) {
	body, err := json.Marshal(Request{UserID: userID, UserMessage: message})
	if err != nil {
		return Reply{}, errors.Wrap(err, "relay: marshal request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return Reply{}, errors.Wrap(err, "relay: build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Reply{}, &UnavailableError{Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return Reply{}, &UnavailableError{Err: errors.Wrap(err, "read response")}
	}
	log.Debug().
		Str("component", "relay").
		Str("user_id", userID).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("chat endpoint responded")

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Reply{}, &UnavailableError{
			StatusCode: resp.StatusCode,
			Err:        errors.Errorf("body: %s", truncate(raw, 256)),
		}
	}
	return ParseReply(raw)
}

// ParseReply validates raw against the reply shape. Both fields are required and must carry
// the right JSON type; a surrounding markdown code fence is tolerated.
func ParseReply(raw []byte) (Reply, error) {
	payload := stripCodeFence(raw)

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil || fields == nil {
		return Reply{}, &MalformedResponseError{Reason: "payload is not a JSON object", Raw: raw}
	}

	var out Reply
	if err := decodeField(fields, "shouldRespond", &out.ShouldRespond); err != nil {
		return Reply{}, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}
	if err := decodeField(fields, "responseText", &out.ResponseText); err != nil {
		return Reply{}, &MalformedResponseError{Reason: err.Error(), Raw: raw}
	}
	return out, nil
}

func decodeField(fields map[string]json.RawMessage, name string, dst any) error {
	v, ok := fields[name]
	if !ok {
		return errors.Errorf("missing field %q", name)
	}
	// json.Unmarshal treats null as a no-op, which would hide a missing value.
	if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
		return errors.Errorf("field %q is null", name)
	}
	if err := json.Unmarshal(v, dst); err != nil {
		return errors.Errorf("field %q has wrong type", name)
	}
	return nil
}

func stripCodeFence(raw []byte) []byte {
	s := strings.TrimSpace(string(raw))
	if !strings.HasPrefix(s, "```") {
		return []byte(s)
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "json"), "JSON")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return []byte(strings.TrimSpace(s))
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
