package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/repo"
	"github.com/lkjx77/GeoGig/pkg/status"
)

// Endpoint identifies a repository served over HTTP. BaseURL has no
// trailing slash, query or credentials.
type Endpoint struct {
	Raw     string
	BaseURL string
	user    string
	pass    string
}

// ParseEndpoint parses an http(s) remote URL.
func ParseEndpoint(raw string) (Endpoint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Endpoint{}, status.Errorf(status.InvalidArgument, "remote URL is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, status.Errorf(status.InvalidArgument, "parse remote URL: %v", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return Endpoint{}, status.Errorf(status.InvalidArgument, "remote URL must be http(s) and include a host: %q", raw)
	}

	endpointURL := *u
	endpointURL.RawPath = ""
	endpointURL.RawQuery = ""
	endpointURL.Fragment = ""
	user, pass := "", ""
	if endpointURL.User != nil {
		user = endpointURL.User.Username()
		pass, _ = endpointURL.User.Password()
	}
	endpointURL.User = nil

	return Endpoint{
		Raw:     raw,
		BaseURL: strings.TrimRight(endpointURL.String(), "/"),
		user:    user,
		pass:    pass,
	}, nil
}

// ClientOptions configures the HTTP session.
type ClientOptions struct {
	Timeout     time.Duration // HTTP client timeout (default 60s)
	MaxAttempts int           // retry attempts (default 3)
	Backoff     time.Duration // first retry delay (default 500ms)
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

// Response limits per endpoint type.
const (
	responseLimitDefault = 2 << 20   // 2MB
	responseLimitRefs    = 8 << 20   // 8MB
	responseLimitBatch   = 256 << 20 // 256MB
)

// HTTPSession talks to a remote repository served by Server.
type HTTPSession struct {
	endpoint    Endpoint
	httpClient  *http.Client
	token       string
	user        string
	pass        string
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger

	mu   sync.Mutex
	open map[string]struct{}
}

var _ Session = (*HTTPSession)(nil)

// NewHTTPSession opens a session and probes the remote manifest. A remote
// that cannot be reached fails with CONNECTION_ERROR.
//
// Auth resolution order:
// 1) GEOGIG_TOKEN (Bearer)
// 2) GEOGIG_USERNAME + GEOGIG_PASSWORD (Basic)
// 3) URL userinfo (Basic)
func NewHTTPSession(ctx context.Context, remoteURL string, opts ClientOptions) (*HTTPSession, error) {
	endpoint, err := ParseEndpoint(remoteURL)
	if err != nil {
		return nil, err
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	token := strings.TrimSpace(os.Getenv("GEOGIG_TOKEN"))
	user := strings.TrimSpace(os.Getenv("GEOGIG_USERNAME"))
	pass := os.Getenv("GEOGIG_PASSWORD")
	if token == "" && user == "" && endpoint.user != "" {
		user = endpoint.user
		pass = endpoint.pass
	}

	s := &HTTPSession{
		endpoint:    endpoint,
		httpClient:  httpClient,
		token:       token,
		user:        user,
		pass:        pass,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.Backoff,
		logger:      logger,
		open:        make(map[string]struct{}),
	}
	if _, err := s.Manifest(ctx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, status.Errorf(status.ConnectionError, "open %s: %v", endpoint.BaseURL, err)
	}
	return s, nil
}

// Endpoint returns the parsed endpoint metadata.
func (s *HTTPSession) Endpoint() Endpoint {
	return s.endpoint
}

func (s *HTTPSession) Manifest(ctx context.Context) (*repo.Manifest, error) {
	var m repo.Manifest
	if err := s.getJSON(ctx, "/manifest", nil, responseLimitRefs, &m); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return &m, nil
}

func (s *HTTPSession) Exists(ctx context.Context, ids []object.ID) ([]bool, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var resp existsResponse
	if err := s.postJSON(ctx, "/exists", nil, idsRequest{IDs: ids}, s.maxAttempts, &resp); err != nil {
		return nil, fmt.Errorf("exists: %w", err)
	}
	if len(resp.Exists) != len(ids) {
		return nil, status.Errorf(status.ConnectionError, "exists: asked for %d ids, got %d answers", len(ids), len(resp.Exists))
	}
	return resp.Exists, nil
}

func (s *HTTPSession) FetchObjects(ctx context.Context, ids []object.ID) ([]object.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	payload, err := json.Marshal(idsRequest{IDs: ids})
	if err != nil {
		return nil, err
	}
	body, err := s.do(ctx, http.MethodPost, "/batchobjects", nil, payload, contentTypeJSON, s.maxAttempts, responseLimitBatch)
	if err != nil {
		return nil, fmt.Errorf("fetch objects: %w", err)
	}
	recs, err := DecodeObjectStream(body)
	if err != nil {
		return nil, fmt.Errorf("fetch objects: %w", err)
	}
	return recs, nil
}

func (s *HTTPSession) AncestorDepth(ctx context.Context, id object.ID) (int, error) {
	var resp depthResponse
	if err := s.getJSON(ctx, "/getdepth", url.Values{"id": {id.String()}}, responseLimitDefault, &resp); err != nil {
		return 0, fmt.Errorf("ancestor depth of %s: %w", id.Short(), err)
	}
	return resp.Depth, nil
}

func (s *HTTPSession) Parents(ctx context.Context, id object.ID) ([]object.ID, error) {
	var resp parentsResponse
	if err := s.getJSON(ctx, "/getparents", url.Values{"id": {id.String()}}, responseLimitDefault, &resp); err != nil {
		return nil, fmt.Errorf("parents of %s: %w", id.Short(), err)
	}
	return resp.Parents, nil
}

func (s *HTTPSession) BeginPush(ctx context.Context) (string, error) {
	var resp transactionMessage
	if err := s.postJSON(ctx, "/beginpush", nil, struct{}{}, 1, &resp); err != nil {
		return "", fmt.Errorf("begin push: %w", err)
	}
	if resp.Transaction == "" {
		return "", status.Errorf(status.ConnectionError, "begin push: empty transaction id")
	}
	s.mu.Lock()
	s.open[resp.Transaction] = struct{}{}
	s.mu.Unlock()
	return resp.Transaction, nil
}

// SendObjects uploads one batch as a compressed object stream. Staging is
// idempotent, so the upload is retried like a read.
func (s *HTTPSession) SendObjects(ctx context.Context, tx string, recs []object.Record) error {
	if len(recs) == 0 {
		return nil
	}
	payload, err := EncodeObjectStream(recs)
	if err != nil {
		return fmt.Errorf("send objects: encode: %w", err)
	}
	body, err := s.do(ctx, http.MethodPost, "/sendobject", url.Values{"transaction": {tx}}, payload, contentTypeObjects, s.maxAttempts, responseLimitDefault)
	if err != nil {
		return fmt.Errorf("send objects: %w", err)
	}
	var resp stagedResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return status.Errorf(status.ConnectionError, "send objects: decode response: %v", err)
	}
	s.logger.Debug("objects sent", "transaction", tx, "objects", len(recs), "staged", resp.Staged, "bytes", len(payload))
	return nil
}

// EndPush is not retried: a lost response leaves the outcome unknown, and
// replaying would report ABORTED for a push that may have committed.
func (s *HTTPSession) EndPush(ctx context.Context, tx, ref string, expectedOld, next object.ID) error {
	s.mu.Lock()
	delete(s.open, tx)
	s.mu.Unlock()

	req := endPushRequest{Transaction: tx, Ref: ref, Expected: expectedOld, New: next}
	var resp refResponse
	if err := s.postJSON(ctx, "/endpush", nil, req, 1, &resp); err != nil {
		return fmt.Errorf("end push %s: %w", ref, err)
	}
	return nil
}

func (s *HTTPSession) AbortPush(ctx context.Context, tx string) error {
	s.mu.Lock()
	delete(s.open, tx)
	s.mu.Unlock()

	if err := s.postJSON(ctx, "/abortpush", nil, transactionMessage{Transaction: tx}, s.maxAttempts, nil); err != nil {
		return fmt.Errorf("abort push: %w", err)
	}
	return nil
}

func (s *HTTPSession) DeleteRef(ctx context.Context, name string) error {
	if err := s.postJSON(ctx, "/deleteref", nil, deleteRefRequest{Ref: name}, 1, nil); err != nil {
		return fmt.Errorf("delete ref %s: %w", name, err)
	}
	return nil
}

// Close aborts transactions begun in this session and not ended.
func (s *HTTPSession) Close() error {
	s.mu.Lock()
	pending := make([]string, 0, len(s.open))
	for tx := range s.open {
		pending = append(pending, tx)
	}
	s.mu.Unlock()

	var errs []error
	for _, tx := range pending {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		errs = append(errs, s.AbortPush(ctx, tx))
		cancel()
	}
	s.httpClient.CloseIdleConnections()
	return errors.Join(errs...)
}

func (s *HTTPSession) getJSON(ctx context.Context, p string, query url.Values, limit int64, out any) error {
	body, err := s.do(ctx, http.MethodGet, p, query, nil, "", s.maxAttempts, limit)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status.Errorf(status.ConnectionError, "decode %s response: %v", p, err)
	}
	return nil
}

func (s *HTTPSession) postJSON(ctx context.Context, p string, query url.Values, in any, attempts int, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	body, err := s.do(ctx, http.MethodPost, p, query, payload, contentTypeJSON, attempts, responseLimitDefault)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return status.Errorf(status.ConnectionError, "decode %s response: %v", p, err)
	}
	return nil
}

func (s *HTTPSession) do(ctx context.Context, method, p string, query url.Values, payload []byte, contentType string, attempts int, maxBytes int64) ([]byte, error) {
	target := s.endpoint.BaseURL + p
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	s.applyAuth(req)

	resp, err := retryPolicy{attempts: attempts, backoff: s.backoff, logger: s.logger}.do(ctx, s.httpClient, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, status.Errorf(status.ConnectionError, "%s %s: %v", method, p, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, status.Errorf(status.ConnectionError, "%s %s: read response: %v", method, p, err)
	}
	if resp.StatusCode/100 != 2 {
		if re := tryParseRemoteError(data); re != nil {
			return nil, re.Err()
		}
		msg := strings.TrimSpace(string(data))
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, status.Errorf(codeForHTTPStatus(resp.StatusCode), "remote request failed (%s %s): %s", method, p, msg)
	}
	return data, nil
}

func (s *HTTPSession) applyAuth(req *http.Request) {
	req.Header.Set(headerProtocol, ProtocolVersion)

	if strings.TrimSpace(s.token) != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
		return
	}
	if strings.TrimSpace(s.user) != "" {
		req.SetBasicAuth(s.user, s.pass)
	}
}
