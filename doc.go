/*
Package sham provides deterministic, in-memory stand-ins for side-effecting
operations so that tests never touch the network or spawn real processes.

Two capabilities are covered, each in its own package tree with no imports
between them:

  - http and http/mock: outbound HTTP requests.
  - exec and exec/mock: child-process execution, including a process-exit
    stand-in that records the requested exit code instead of terminating.

Each capability defines a small interface (http.Client, exec.Runner), a thin
real adapter that delegates to the genuine facility (net/http, os/exec), and a
mock adapter that matches calls against pre-registered expectations, records
every call for later assertions, and returns scripted outcomes. Code under
test depends only on the interface; tests choose the backend explicitly, via
the constructors or the Select factory in each mock package.
*/
package sham
