/*
Package mock provides the mock adapter for the HTTP capability.

A Client created here satisfies the same interface as the real adapter but
never performs network I/O. Tests register expectations with On, refine the
predicate and script the outcome through chained methods, and assert on the
recorded Calls afterwards:

	m := mock.New(mock.Config{})
	m.On("GET", "https://example.com/status").RespondWith(200, []byte("ok"))

	resp, err := m.Get("https://example.com/status").Send(ctx)

Expectations are consumed one-shot in registration order unless marked with
Times or Persist. A call no expectation serves fails with *UnmatchedError,
which is always distinguishable (via errors.Is) from any scripted failure.
*/
package mock
