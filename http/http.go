package http

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
)

// Client is the capability interface for outbound HTTP requests. Both the
// real adapter returned by New and the mock adapter in the sibling mock
// package satisfy it; code under test should depend on nothing else.
type Client interface {
	Doer

	// Get creates a request builder for a GET request to the given URL.
	Get(url string) *RequestBuilder

	// Post creates a request builder for a POST request to the given URL.
	Post(url string) *RequestBuilder

	// Put creates a request builder for a PUT request to the given URL.
	Put(url string) *RequestBuilder

	// Patch creates a request builder for a PATCH request to the given URL.
	Patch(url string) *RequestBuilder

	// Delete creates a request builder for a DELETE request to the given URL.
	Delete(url string) *RequestBuilder
}

// Doer executes a finalized Request. It is the minimal surface a
// RequestBuilder needs from its bound adapter.
type Doer interface {
	Do(ctx context.Context, req *Request) (*Response, error)
}

// Request describes an HTTP request after the builder has finalized it. It
// must not be modified once handed to an adapter.
type Request struct {
	// Method is the HTTP method (e.g. GET, POST).
	Method string
	// URL is the full request URL; Host must be non-empty.
	URL *url.URL
	// Header holds request headers. Nil is treated as empty.
	Header http.Header
	// Body is the request payload. Nil means no body.
	Body []byte
}

// Response represents an HTTP response from either backend.
type Response struct {
	// URL is the URL the response was produced for.
	URL string
	// Status is the HTTP status text (e.g. "OK").
	Status string
	// StatusCode is the numeric HTTP status code (e.g. 200).
	StatusCode int
	// Header contains response headers. Nil is treated as empty.
	Header http.Header
	// Body is the response payload stream. It may be nil for empty bodies
	// and is consumed lazily; Bytes and Text drain and close it.
	Body io.ReadCloser
}

// Bytes drains and closes the response body and returns it as a byte slice.
// Read failures are reported as an *Error of KindDecode.
func (r *Response) Bytes() ([]byte, error) {
	if r.Body == nil {
		return nil, nil
	}
	defer func() { _ = r.Body.Close() }()
	b, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, &Error{Kind: KindDecode, URL: r.URL, Err: err}
	}
	return b, nil
}

// Text drains and closes the response body and returns it as a string.
func (r *Response) Text() (string, error) {
	b, err := r.Bytes()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ErrorForStatus turns the response into an *Error of KindStatus if the
// server returned a 4xx or 5xx status code, and returns the response
// unchanged otherwise.
func (r *Response) ErrorForStatus() (*Response, error) {
	if r.StatusCode >= http.StatusBadRequest {
		return nil, &Error{Kind: KindStatus, StatusCode: r.StatusCode, URL: r.URL}
	}
	return r, nil
}

// ErrorKind classifies a request failure independent of any status code.
type ErrorKind string

// Error kinds produced by the real adapter and scriptable on the mock.
const (
	// KindConnect covers failures to reach the server at all.
	KindConnect ErrorKind = "connect"
	// KindTimeout covers deadline and timeout failures.
	KindTimeout ErrorKind = "timeout"
	// KindDecode covers failures while reading a body stream.
	KindDecode ErrorKind = "decode"
	// KindStatus marks errors produced by ErrorForStatus.
	KindStatus ErrorKind = "status"
	// KindRequest covers failures constructing or sending the request.
	KindRequest ErrorKind = "request"
)

// Error is a request failure with the same shape regardless of backend, so
// code under test exercises identical error-handling paths against real and
// scripted failures.
type Error struct {
	// Kind classifies the failure.
	Kind ErrorKind
	// StatusCode is set for KindStatus errors, zero otherwise.
	StatusCode int
	// URL is the request URL associated with the failure, if known.
	URL string
	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("http %s error", e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (%d)", msg, e.StatusCode)
	}
	if e.URL != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.URL)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error { return e.Err }

var (
	// ErrInvalidURL indicates a malformed or unsupported URL.
	ErrInvalidURL = errors.New("invalid URL provided")

	// ErrInvalidMethod indicates an HTTP method not permitted by NewRequest.
	ErrInvalidMethod = errors.New("invalid HTTP method")

	// ErrNilRequest indicates Do received a nil Request pointer.
	ErrNilRequest = errors.New("request is nil")

	// ErrReadBody wraps failures while reading a request body stream.
	ErrReadBody = errors.New("failed to read request body")

	// ErrAlreadyExecuted is returned when Send is called on a builder that
	// has already executed. This signals a bug in the calling test and is
	// never recovered internally.
	ErrAlreadyExecuted = errors.New("request builder already executed")
)

// RequestBuilder accumulates request configuration through chained setters
// and finalizes it into an immutable Request on Send. Setting the same field
// twice is last-write-wins. A builder executes at most once.
type RequestBuilder struct {
	doer     Doer
	method   string
	url      string
	header   http.Header
	body     io.Reader
	executed bool
}

// NewRequestBuilder creates a builder bound to the given adapter. Adapters
// use it to implement the Client builder-starter methods; it is rarely
// called directly.
func NewRequestBuilder(d Doer, method, url string) *RequestBuilder {
	return &RequestBuilder{
		doer:   d,
		method: method,
		url:    url,
		header: make(http.Header),
	}
}

// Header sets a request header, replacing any previous value for the key.
func (b *RequestBuilder) Header(key, value string) *RequestBuilder {
	b.header.Set(key, value)
	return b
}

// Headers sets every header in h, replacing previous values per key.
func (b *RequestBuilder) Headers(h http.Header) *RequestBuilder {
	for key, values := range h {
		b.header[http.CanonicalHeaderKey(key)] = append([]string(nil), values...)
	}
	return b
}

// Body sets the request body from a reader, replacing any previous body.
// The reader is drained when Send finalizes the request.
func (b *RequestBuilder) Body(r io.Reader) *RequestBuilder {
	b.body = r
	return b
}

// BodyBytes sets the request body, replacing any previous body.
func (b *RequestBuilder) BodyBytes(p []byte) *RequestBuilder {
	b.body = bytes.NewReader(p)
	return b
}

// Send finalizes the accumulated state into a Request and executes it via
// the bound adapter. A second Send on the same builder returns
// ErrAlreadyExecuted.
func (b *RequestBuilder) Send(ctx context.Context) (*Response, error) {
	if b.executed {
		return nil, ErrAlreadyExecuted
	}
	b.executed = true

	var body []byte
	if b.body != nil {
		var err error
		body, err = io.ReadAll(b.body)
		if err != nil {
			return nil, errors.Join(ErrReadBody, err)
		}
	}

	req, err := NewRequest(b.method, b.url, body)
	if err != nil {
		return nil, err
	}
	for key, values := range b.header {
		req.Header[key] = values
	}

	return b.doer.Do(ctx, req)
}

// NewRequest creates a finalized Request for use with Do.
func NewRequest(method, urlStr string, body []byte) (*Request, error) {
	if !isValidMethod(method) {
		return nil, ErrInvalidMethod
	}

	u, err := url.Parse(urlStr)
	if err != nil || u == nil || u.Host == "" {
		return nil, ErrInvalidURL
	}

	return &Request{
		Method: method,
		URL:    u,
		Header: make(http.Header),
		Body:   body,
	}, nil
}

func isValidMethod(method string) bool {
	switch method {
	case http.MethodGet,
		http.MethodHead,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
		http.MethodConnect,
		http.MethodOptions,
		http.MethodTrace:
		return true
	default:
		return false
	}
}

// Config configures the real adapter.
type Config struct {
	// HTTPClient is the underlying client used to send requests. When nil,
	// a fresh *http.Client with Timeout applied is used.
	HTTPClient *http.Client

	// Timeout applies to the default client when HTTPClient is nil.
	Timeout time.Duration

	// Logger receives request-level debug logging. When nil, logging is
	// disabled.
	Logger *zerolog.Logger
}

// HTTPClient is the real adapter: a thin pass-through to net/http. It
// performs no scripting logic and produces outcomes structurally identical
// to the mock adapter's.
type HTTPClient struct {
	client *http.Client
	log    zerolog.Logger
}

// Ensure HTTPClient always satisfies the Client interface at compile time.
var _ Client = (*HTTPClient)(nil)

// New creates a real HTTP client with the provided configuration.
func New(config Config) (*HTTPClient, error) {
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}

	log := zerolog.Nop()
	if config.Logger != nil {
		log = *config.Logger
	}

	return &HTTPClient{client: client, log: log}, nil
}

// Get creates a request builder for a GET request to the given URL.
func (c *HTTPClient) Get(url string) *RequestBuilder {
	return NewRequestBuilder(c, http.MethodGet, url)
}

// Post creates a request builder for a POST request to the given URL.
func (c *HTTPClient) Post(url string) *RequestBuilder {
	return NewRequestBuilder(c, http.MethodPost, url)
}

// Put creates a request builder for a PUT request to the given URL.
func (c *HTTPClient) Put(url string) *RequestBuilder {
	return NewRequestBuilder(c, http.MethodPut, url)
}

// Patch creates a request builder for a PATCH request to the given URL.
func (c *HTTPClient) Patch(url string) *RequestBuilder {
	return NewRequestBuilder(c, http.MethodPatch, url)
}

// Delete creates a request builder for a DELETE request to the given URL.
func (c *HTTPClient) Delete(url string) *RequestBuilder {
	return NewRequestBuilder(c, http.MethodDelete, url)
}

// Do sends the finalized request and returns the response. The response
// body is a live stream from the underlying connection; callers must drain
// or close it.
func (c *HTTPClient) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, ErrNilRequest
	}
	if req.URL == nil || req.URL.Host == "" {
		return nil, ErrInvalidURL
	}

	urlStr := req.URL.String()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, urlStr, body)
	if err != nil {
		return nil, &Error{Kind: KindRequest, URL: urlStr, Err: err}
	}
	for key, values := range req.Header {
		httpReq.Header[key] = values
	}

	c.log.Debug().Str("method", req.Method).Str("url", urlStr).Msg("sending request")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classify(err, urlStr)
	}

	return &Response{
		URL:        urlStr,
		Status:     resp.Status,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// classify maps a transport failure onto the backend-agnostic Error shape.
func classify(err error, url string) error {
	kind := KindConnect
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		kind = KindTimeout
	}
	return &Error{Kind: kind, URL: url, Err: err}
}
