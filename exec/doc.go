/*
Package exec provides the process-execution capability: a Runner interface,
a fluent Cmd builder, and a thin real adapter over os/exec.

Commands are configured through chained setters and finalized by Run (for a
buffered Result) or Start (for a streaming Process handle). Non-zero exit
codes are delivered as values, not errors, so assertion code treats both
backends identically; only spawn failures are errors. The package also
defines Exiter, a seam for process termination whose mock counterpart
records the requested exit code instead of ending the test binary. The mock
adapter lives in the sibling mock package.
*/
package exec
