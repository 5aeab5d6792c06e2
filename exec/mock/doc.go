/*
Package mock provides the mock adapter for the process-execution capability.

A Runner created here satisfies the same interface as the real adapter but
never spawns a process. Tests register expectations with On, refine the
predicate and script the outcome through chained methods, and assert on the
recorded Calls afterwards:

	m := mock.New(mock.Config{})
	m.On("git", "status").ReturnStatus(0).ReturnOutput([]byte("clean\n"), nil)

	result, err := m.Command("git", "status").Run(ctx)

Expectations are consumed one-shot in registration order unless marked with
Times or Persist. A call no expectation serves fails with *UnmatchedError,
which is always distinguishable (via errors.Is) from any scripted spawn
failure.

The package also provides a recording Exiter: code under test that requests
process termination gets control back, and the test asserts on the recorded
codes.
*/
package mock
