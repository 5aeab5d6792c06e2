package http

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// capturingDoer records the finalized request and returns a canned response.
type capturingDoer struct {
	req  *Request
	resp *Response
	err  error
}

func (d *capturingDoer) Do(_ context.Context, req *Request) (*Response, error) {
	d.req = req
	return d.resp, d.err
}

func TestNewRequest(t *testing.T) {
	testCases := []struct {
		name    string
		method  string
		url     string
		wantErr error
	}{
		{
			name:    "Valid GET",
			method:  http.MethodGet,
			url:     "https://example.com/status",
			wantErr: nil,
		},
		{
			name:    "Valid POST",
			method:  http.MethodPost,
			url:     "https://example.com/api",
			wantErr: nil,
		},
		{
			name:    "Invalid method",
			method:  "YEET",
			url:     "https://example.com",
			wantErr: ErrInvalidMethod,
		},
		{
			name:    "Missing host",
			method:  http.MethodGet,
			url:     "/relative/path",
			wantErr: ErrInvalidURL,
		},
		{
			name:    "Unparseable URL",
			method:  http.MethodGet,
			url:     "://nope",
			wantErr: ErrInvalidURL,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req, err := NewRequest(tc.method, tc.url, nil)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected error %v, got %v", tc.wantErr, err)
			}
			if err != nil {
				return
			}
			if req.Method != tc.method {
				t.Errorf("expected method %q, got %q", tc.method, req.Method)
			}
			if req.URL.String() != tc.url {
				t.Errorf("expected URL %q, got %q", tc.url, req.URL.String())
			}
			if req.Header == nil {
				t.Error("expected header map to be initialized")
			}
		})
	}
}

func TestRequestBuilder(t *testing.T) {
	t.Run("Finalizes accumulated state", func(t *testing.T) {
		doer := &capturingDoer{resp: &Response{StatusCode: http.StatusOK}}

		_, err := NewRequestBuilder(doer, http.MethodPost, "https://example.com/api").
			Header("Content-Type", "application/json").
			Header("X-Trace", "abc").
			Body(strings.NewReader(`{"name":"test"}`)).
			Send(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		req := doer.req
		if req == nil {
			t.Fatal("expected finalized request to reach the adapter")
		}
		if req.Method != http.MethodPost {
			t.Errorf("expected method POST, got %s", req.Method)
		}
		if req.Header.Get("Content-Type") != "application/json" {
			t.Errorf("unexpected Content-Type: %s", req.Header.Get("Content-Type"))
		}
		if string(req.Body) != `{"name":"test"}` {
			t.Errorf("unexpected body: %s", string(req.Body))
		}
	})

	t.Run("Last write wins", func(t *testing.T) {
		doer := &capturingDoer{resp: &Response{StatusCode: http.StatusOK}}

		_, err := NewRequestBuilder(doer, http.MethodGet, "https://example.com").
			Header("X-Token", "first").
			Header("X-Token", "second").
			BodyBytes([]byte("old")).
			BodyBytes([]byte("new")).
			Send(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if got := doer.req.Header.Get("X-Token"); got != "second" {
			t.Errorf("expected header overwrite, got %q", got)
		}
		if string(doer.req.Body) != "new" {
			t.Errorf("expected body overwrite, got %q", string(doer.req.Body))
		}
	})

	t.Run("Headers replaces per key", func(t *testing.T) {
		doer := &capturingDoer{resp: &Response{StatusCode: http.StatusOK}}

		h := http.Header{}
		h.Set("Accept", "application/json")

		_, err := NewRequestBuilder(doer, http.MethodGet, "https://example.com").
			Header("Accept", "text/plain").
			Headers(h).
			Send(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := doer.req.Header.Get("Accept"); got != "application/json" {
			t.Errorf("expected Accept overwrite, got %q", got)
		}
	})

	t.Run("Send twice is a hard failure", func(t *testing.T) {
		doer := &capturingDoer{resp: &Response{StatusCode: http.StatusOK}}
		builder := NewRequestBuilder(doer, http.MethodGet, "https://example.com")

		if _, err := builder.Send(context.Background()); err != nil {
			t.Fatalf("unexpected error on first send: %v", err)
		}
		_, err := builder.Send(context.Background())
		if !errors.Is(err, ErrAlreadyExecuted) {
			t.Fatalf("expected ErrAlreadyExecuted, got %v", err)
		}
	})

	t.Run("Invalid URL surfaces before the adapter", func(t *testing.T) {
		doer := &capturingDoer{}

		_, err := NewRequestBuilder(doer, http.MethodGet, "not a url").Send(context.Background())
		if !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("expected ErrInvalidURL, got %v", err)
		}
		if doer.req != nil {
			t.Error("adapter must not see an invalid request")
		}
	})
}

func TestHTTPClient_Do(t *testing.T) {
	t.Run("Round trip", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodPost {
				t.Errorf("expected method POST, got %s", r.Method)
			}
			if r.Header.Get("X-Trace") != "abc" {
				t.Errorf("expected X-Trace header, got %q", r.Header.Get("X-Trace"))
			}
			body, _ := io.ReadAll(r.Body)
			if string(body) != "ping" {
				t.Errorf("expected request body ping, got %q", string(body))
			}
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte("pong"))
		}))
		defer server.Close()

		client, err := New(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		resp, err := client.Post(server.URL).
			Header("X-Trace", "abc").
			BodyBytes([]byte("ping")).
			Send(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if resp.StatusCode != http.StatusCreated {
			t.Errorf("expected status code 201, got %d", resp.StatusCode)
		}
		if resp.Header.Get("Content-Type") != "text/plain" {
			t.Errorf("unexpected Content-Type: %s", resp.Header.Get("Content-Type"))
		}
		text, err := resp.Text()
		if err != nil {
			t.Fatalf("unexpected error reading body: %v", err)
		}
		if text != "pong" {
			t.Errorf("expected body pong, got %q", text)
		}
	})

	t.Run("Connect failure yields backend-agnostic error", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		server.Close() // nothing is listening any more

		client, err := New(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		_, err = client.Get(server.URL).Send(context.Background())
		var httpErr *Error
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if httpErr.Kind != KindConnect {
			t.Errorf("expected connect kind, got %s", httpErr.Kind)
		}
	})

	t.Run("Nil request", func(t *testing.T) {
		client, err := New(Config{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := client.Do(context.Background(), nil); !errors.Is(err, ErrNilRequest) {
			t.Fatalf("expected ErrNilRequest, got %v", err)
		}
	})
}

func TestResponse(t *testing.T) {
	t.Run("ErrorForStatus on server error", func(t *testing.T) {
		resp := &Response{URL: "https://example.com", StatusCode: http.StatusInternalServerError}
		_, err := resp.ErrorForStatus()
		var httpErr *Error
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if httpErr.Kind != KindStatus || httpErr.StatusCode != http.StatusInternalServerError {
			t.Errorf("unexpected error contents: %+v", httpErr)
		}
	})

	t.Run("ErrorForStatus passes success through", func(t *testing.T) {
		resp := &Response{StatusCode: http.StatusOK}
		got, err := resp.ErrorForStatus()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != resp {
			t.Error("expected the same response back")
		}
	})

	t.Run("Bytes wraps read failures as decode errors", func(t *testing.T) {
		resp := &Response{
			URL:  "https://example.com",
			Body: io.NopCloser(&failingReader{err: errors.New("read error")}),
		}
		_, err := resp.Bytes()
		var httpErr *Error
		if !errors.As(err, &httpErr) {
			t.Fatalf("expected *Error, got %v", err)
		}
		if httpErr.Kind != KindDecode {
			t.Errorf("expected decode kind, got %s", httpErr.Kind)
		}
	})

	t.Run("Bytes on nil body", func(t *testing.T) {
		resp := &Response{}
		b, err := resp.Bytes()
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b != nil {
			t.Errorf("expected nil body, got %q", string(b))
		}
	})
}

// failingReader always returns an error.
type failingReader struct {
	err error
}

func (f *failingReader) Read(_ []byte) (int, error) {
	return 0, f.err
}
