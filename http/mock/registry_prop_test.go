package mock

import (
	"context"
	"fmt"
	"net/http"
	"testing"

	"pgregory.net/rapid"
)

// Property: with every expectation matching every call, outcomes are served
// strictly in registration order, one-shot counts are never exceeded, a
// persistent expectation absorbs everything after it, and exactly one call
// record exists per call.
func TestRegistryConsumptionProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		m := New(Config{})

		numExp := rapid.IntRange(1, 6).Draw(t, "expectations")
		times := make([]int, numExp) // -1 means persistent
		for i := 0; i < numExp; i++ {
			e := m.OnAny().RespondWith(200, []byte(fmt.Sprintf("%d", i)))
			if rapid.Bool().Draw(t, fmt.Sprintf("persist_%d", i)) {
				e.Persist()
				times[i] = -1
			} else {
				n := rapid.IntRange(1, 3).Draw(t, fmt.Sprintf("times_%d", i))
				e.Times(n)
				times[i] = n
			}
		}

		numCalls := rapid.IntRange(0, 12).Draw(t, "calls")

		// Expected body sequence: each expectation serves up to its
		// allowance in order; a persistent one absorbs the rest.
		var want []string
		remaining := numCalls
	outer:
		for i, n := range times {
			if n < 0 {
				for r := 0; r < remaining; r++ {
					want = append(want, fmt.Sprintf("%d", i))
				}
				remaining = 0
				break outer
			}
			for k := 0; k < n; k++ {
				if remaining == 0 {
					break outer
				}
				want = append(want, fmt.Sprintf("%d", i))
				remaining--
			}
		}

		var got []string
		unmatchedCalls := 0
		for c := 0; c < numCalls; c++ {
			resp, err := m.Get("https://example.com").Send(context.Background())
			if err != nil {
				unmatchedCalls++
				continue
			}
			body, readErr := resp.Text()
			if readErr != nil {
				t.Fatalf("unexpected body error: %v", readErr)
			}
			got = append(got, body)
		}

		if len(got) != len(want) {
			t.Fatalf("served %d calls, expected %d", len(got), len(want))
		}
		for i := range got {
			if got[i] != want[i] {
				t.Fatalf("call %d served by expectation %s, expected %s", i, got[i], want[i])
			}
		}
		if unmatchedCalls != remaining {
			t.Fatalf("%d unmatched calls, expected %d", unmatchedCalls, remaining)
		}
		if len(m.Calls()) != numCalls {
			t.Fatalf("recorded %d calls, expected %d", len(m.Calls()), numCalls)
		}
	})
}

func BenchmarkMockDo(b *testing.B) {
	m := New(Config{})
	m.On(http.MethodGet, "https://example.com").RespondWith(200, []byte("ok")).Persist()

	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		resp, err := m.Get("https://example.com").Send(ctx)
		if err != nil {
			b.Fatal(err)
		}
		if _, err := resp.Bytes(); err != nil {
			b.Fatal(err)
		}
	}
}
