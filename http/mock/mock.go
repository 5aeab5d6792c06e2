package mock

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	sdkhttp "github.com/danwilliams/sham/http"
)

// Wildcard matches any method or URL in an expectation predicate.
const Wildcard = "*"

var (
	// ErrUnmatched is returned (wrapped in *UnmatchedError) when no
	// registered expectation matches a call. This is a configuration error
	// in the test, never a scripted outcome.
	ErrUnmatched = errors.New("no expectation matched call")

	// ErrOutOfOrder is returned (wrapped in *UnmatchedError) in strict
	// ordering mode when a call does not match the next pending
	// expectation.
	ErrOutOfOrder = errors.New("call out of registered order")

	// ErrExpectationsNotMet is returned by ExpectationsMet when one or more
	// non-persistent expectations were not fully consumed.
	ErrExpectationsNotMet = errors.New("expectations not met")

	// ErrUnknownBackend is returned by Select for an unrecognized Backend.
	ErrUnknownBackend = errors.New("unknown backend")
)

// UnmatchedError reports a call that no expectation served. It wraps
// ErrUnmatched or ErrOutOfOrder so tests can distinguish a missing
// registration from a scripted failure via errors.Is.
type UnmatchedError struct {
	// Method is the HTTP method of the offending call.
	Method string
	// URL is the URL of the offending call.
	URL string
	// Err is ErrUnmatched or ErrOutOfOrder.
	Err error
}

// Error implements the error interface.
func (e *UnmatchedError) Error() string {
	return fmt.Sprintf("%v: %s %s", e.Err, e.Method, e.URL)
}

// Unwrap returns the sentinel classifying the mismatch.
func (e *UnmatchedError) Unwrap() error { return e.Err }

// Config controls construction of a mock Client.
type Config struct {
	// StrictOrder requires calls to match expectations in exact
	// registration order. A mismatch fails immediately instead of falling
	// through to a later expectation.
	StrictOrder bool

	// Logger receives per-call debug logging. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

// Client is the mock adapter for the HTTP capability. It matches each call
// against registered expectations in registration order, records the call,
// and returns the scripted outcome without any network I/O.
//
// A Client is safe for concurrent use: matching and consuming an
// expectation is atomic with producing its outcome.
type Client struct {
	mu           sync.Mutex
	expectations []*Expectation
	calls        []Call
	strict       bool
	log          zerolog.Logger
}

// Ensure the mock always satisfies the capability interface at compile time.
var _ sdkhttp.Client = (*Client)(nil)

// New creates a fresh mock Client. Instances are intended to be scoped to a
// single test case.
func New(config Config) *Client {
	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}
	return &Client{strict: config.StrictOrder, log: log}
}

// Response describes a scripted HTTP response.
type Response struct {
	// StatusCode is the HTTP status code to return. Zero means 200.
	StatusCode int
	// Status is the HTTP status text. Empty derives it from StatusCode.
	Status string
	// Header holds headers to include in the response.
	Header http.Header
	// Body is the response payload, delivered as a single read.
	Body []byte
	// Chunks, when set, takes precedence over Body and is delivered one
	// chunk per read for streaming consumers.
	Chunks [][]byte
	// BodyError, when set, is returned by the body stream after the
	// payload is exhausted, in place of EOF.
	BodyError error
}

// Call is an immutable record of one request observed by the mock.
type Call struct {
	// ID uniquely identifies the call and correlates it with log output.
	ID string
	// Method is the HTTP method used.
	Method string
	// URL is the requested URL string.
	URL string
	// Header holds request headers passed by the caller.
	Header http.Header
	// Body contains the request body, if provided.
	Body []byte
	// Expectation is the expectation that served the call, or nil if the
	// call went unmatched.
	Expectation *Expectation
}

// Expectation binds a predicate over requests to a scripted outcome and a
// consumption policy. Expectations are one-shot unless Times or Persist is
// used, and are evaluated in registration order.
type Expectation struct {
	client *Client

	method    string
	url       string
	headers   map[string]string
	body      []byte
	matchBody bool
	matchFn   func(*sdkhttp.Request) bool

	resp *Response
	err  error

	times int // allowed uses; negative means unlimited
	used  int
}

// On registers an expectation matching the given method and URL. Either may
// be Wildcard. The returned Expectation is refined and scripted through its
// chained methods; with no further scripting it responds 200 with no body.
// Expectations may be registered before or between calls.
func (m *Client) On(method, url string) *Expectation {
	e := &Expectation{client: m, method: method, url: url, times: 1}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = append(m.expectations, e)
	return e
}

// OnAny registers an expectation matching any request.
func (m *Client) OnAny() *Expectation {
	return m.On(Wildcard, Wildcard)
}

// MatchHeader requires the request to carry the given header value.
func (e *Expectation) MatchHeader(key, value string) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	if e.headers == nil {
		e.headers = make(map[string]string)
	}
	e.headers[http.CanonicalHeaderKey(key)] = value
	return e
}

// MatchBody requires the request body to equal b exactly.
func (e *Expectation) MatchBody(b []byte) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.body = b
	e.matchBody = true
	return e
}

// MatchFunc adds a custom predicate over the finalized request.
func (e *Expectation) MatchFunc(fn func(*sdkhttp.Request) bool) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.matchFn = fn
	return e
}

// Return scripts a full response for matching calls.
func (e *Expectation) Return(resp *Response) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.resp = resp
	e.err = nil
	return e
}

// RespondWith scripts a response with the given status code and body.
func (e *Expectation) RespondWith(status int, body []byte) *Expectation {
	return e.Return(&Response{StatusCode: status, Body: body})
}

// RespondWithHeader adds a header to the scripted response.
func (e *Expectation) RespondWithHeader(key, value string) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	if e.resp == nil {
		e.resp = &Response{}
	}
	if e.resp.Header == nil {
		e.resp.Header = make(http.Header)
	}
	e.resp.Header.Set(key, value)
	return e
}

// RespondWithChunks scripts a streamed response body delivered one chunk
// per read.
func (e *Expectation) RespondWithChunks(status int, chunks ...[]byte) *Expectation {
	return e.Return(&Response{StatusCode: status, Chunks: chunks})
}

// ReturnError scripts an error outcome for matching calls. The error is
// returned to the caller as-is, indistinguishable from a real failure of
// the same shape.
func (e *Expectation) ReturnError(err error) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.err = err
	e.resp = nil
	return e
}

// Times allows the expectation to serve up to n matching calls.
func (e *Expectation) Times(n int) *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.times = n
	return e
}

// Once restores the default one-shot consumption policy.
func (e *Expectation) Once() *Expectation {
	return e.Times(1)
}

// Persist makes the expectation reusable for any number of matching calls.
// In strict ordering mode a persistent expectation never exhausts, so
// expectations registered after it are unreachable.
func (e *Expectation) Persist() *Expectation {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	e.times = -1
	return e
}

// Served reports how many calls this expectation has answered.
func (e *Expectation) Served() int {
	e.client.mu.Lock()
	defer e.client.mu.Unlock()
	return e.used
}

// exhausted reports whether the expectation can serve no further calls.
// Callers must hold the client mutex.
func (e *Expectation) exhausted() bool {
	return e.times >= 0 && e.used >= e.times
}

// matches evaluates the predicate against a finalized request. Callers must
// hold the client mutex.
func (e *Expectation) matches(req *sdkhttp.Request) bool {
	if e.method != Wildcard && e.method != req.Method {
		return false
	}
	if e.url != Wildcard && e.url != req.URL.String() {
		return false
	}
	for key, value := range e.headers {
		if req.Header.Get(key) != value {
			return false
		}
	}
	if e.matchBody && !bytes.Equal(e.body, req.Body) {
		return false
	}
	if e.matchFn != nil && !e.matchFn(req) {
		return false
	}
	return true
}

// Get creates a request builder for a GET request to the given URL.
func (m *Client) Get(url string) *sdkhttp.RequestBuilder {
	return sdkhttp.NewRequestBuilder(m, http.MethodGet, url)
}

// Post creates a request builder for a POST request to the given URL.
func (m *Client) Post(url string) *sdkhttp.RequestBuilder {
	return sdkhttp.NewRequestBuilder(m, http.MethodPost, url)
}

// Put creates a request builder for a PUT request to the given URL.
func (m *Client) Put(url string) *sdkhttp.RequestBuilder {
	return sdkhttp.NewRequestBuilder(m, http.MethodPut, url)
}

// Patch creates a request builder for a PATCH request to the given URL.
func (m *Client) Patch(url string) *sdkhttp.RequestBuilder {
	return sdkhttp.NewRequestBuilder(m, http.MethodPatch, url)
}

// Delete creates a request builder for a DELETE request to the given URL.
func (m *Client) Delete(url string) *sdkhttp.RequestBuilder {
	return sdkhttp.NewRequestBuilder(m, http.MethodDelete, url)
}

// Do matches the request against the expectation registry and returns the
// scripted outcome. The call is recorded whether or not it matches. A
// cancelled context returns before any registry or log state changes.
func (m *Client) Do(ctx context.Context, req *sdkhttp.Request) (*sdkhttp.Response, error) {
	if req == nil {
		return nil, sdkhttp.ErrNilRequest
	}
	if req.URL == nil || req.URL.Host == "" {
		return nil, sdkhttp.ErrInvalidURL
	}
	if ctx != nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	call := Call{
		ID:     uuid.NewString(),
		Method: req.Method,
		URL:    req.URL.String(),
		Header: cloneHeader(req.Header),
		Body:   append([]byte(nil), req.Body...),
	}
	m.log.Debug().Str("call_id", call.ID).Str("method", call.Method).Str("url", call.URL).
		Msg("mock client observed call")

	matched, sentinel := m.findLocked(req)
	if matched == nil {
		m.calls = append(m.calls, call)
		m.log.Debug().Str("call_id", call.ID).Err(sentinel).Msg("call not served")
		return nil, &UnmatchedError{Method: call.Method, URL: call.URL, Err: sentinel}
	}

	matched.used++
	call.Expectation = matched
	m.calls = append(m.calls, call)
	m.log.Debug().Str("call_id", call.ID).Msg("call served by expectation")

	if matched.err != nil {
		return nil, matched.err
	}
	return materialize(matched.resp, call.URL), nil
}

// cloneHeader deep-copies a header map so call records stay immutable after
// the caller mutates the original.
func cloneHeader(h http.Header) http.Header {
	if h == nil {
		return nil
	}
	clone := make(http.Header, len(h))
	for key, values := range h {
		clone[key] = append([]string(nil), values...)
	}
	return clone
}

// findLocked locates the expectation for a request, or reports why none
// applies. Callers must hold the mutex.
func (m *Client) findLocked(req *sdkhttp.Request) (*Expectation, error) {
	if m.strict {
		var next *Expectation
		for _, e := range m.expectations {
			if !e.exhausted() {
				next = e
				break
			}
		}
		if next == nil {
			return nil, ErrUnmatched
		}
		if !next.matches(req) {
			return nil, ErrOutOfOrder
		}
		return next, nil
	}

	for _, e := range m.expectations {
		if !e.exhausted() && e.matches(req) {
			return e, nil
		}
	}
	return nil, ErrUnmatched
}

// materialize builds a fresh response from the scripted outcome. Reusable
// expectations produce an independent body stream per call.
func materialize(scripted *Response, url string) *sdkhttp.Response {
	if scripted == nil {
		scripted = &Response{}
	}

	status := scripted.StatusCode
	if status == 0 {
		status = http.StatusOK
	}
	statusText := scripted.Status
	if statusText == "" {
		statusText = fmt.Sprintf("%d %s", status, http.StatusText(status))
	}

	header := make(http.Header)
	for key, values := range scripted.Header {
		header[key] = append([]string(nil), values...)
	}

	// The outer slice must be this call's own: Read reslices chunks in
	// place, and sharing it with the expectation would corrupt the script
	// for later calls.
	var chunks [][]byte
	if scripted.Chunks != nil {
		chunks = append([][]byte(nil), scripted.Chunks...)
	} else if scripted.Body != nil {
		chunks = [][]byte{scripted.Body}
	}

	return &sdkhttp.Response{
		URL:        url,
		Status:     statusText,
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(&scriptedBody{chunks: chunks, err: scripted.BodyError}),
	}
}

// scriptedBody streams scripted chunks one per read, then yields the
// scripted terminal error or EOF.
type scriptedBody struct {
	chunks [][]byte
	err    error
}

func (b *scriptedBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		if b.err != nil {
			return 0, b.err
		}
		return 0, io.EOF
	}
	n := copy(p, b.chunks[0])
	if n < len(b.chunks[0]) {
		b.chunks[0] = b.chunks[0][n:]
	} else {
		b.chunks = b.chunks[1:]
	}
	return n, nil
}

// Calls returns a copy of the call records in the order calls occurred.
func (m *Client) Calls() []Call {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Call(nil), m.calls...)
}

// CallCount reports how many recorded calls match the given method and URL;
// either may be Wildcard.
func (m *Client) CallCount(method, url string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if (method == Wildcard || c.Method == method) && (url == Wildcard || c.URL == url) {
			count++
		}
	}
	return count
}

// ExpectationsMet returns an error listing every non-persistent expectation
// that has not served its full number of calls.
func (m *Client) ExpectationsMet() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var unmet []error
	for i, e := range m.expectations {
		if e.times >= 0 && e.used < e.times {
			unmet = append(unmet, fmt.Errorf(
				"expectation %d (%s %s) served %d of %d calls", i, e.method, e.url, e.used, e.times))
		}
	}
	if len(unmet) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrExpectationsNotMet}, unmet...)...)
}

// Reset discards all expectations and call records, returning the mock to
// its unconfigured state.
func (m *Client) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expectations = nil
	m.calls = nil
}

// Backend selects which Client implementation the Select factory returns.
type Backend string

// Supported backends.
const (
	// BackendReal yields the real adapter over net/http.
	BackendReal Backend = "real"
	// BackendMock yields a fresh, unconfigured mock instance.
	BackendMock Backend = "mock"
)

// Select constructs the chosen backend behind the capability interface. The
// choice is always explicit; nothing is sensed from the environment. Tests
// that need to register expectations should construct the mock with New and
// keep the concrete handle.
func Select(backend Backend, config sdkhttp.Config) (sdkhttp.Client, error) {
	switch backend {
	case BackendReal:
		return sdkhttp.New(config)
	case BackendMock:
		return New(Config{Logger: config.Logger}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}
