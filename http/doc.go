/*
Package http provides the HTTP capability: a Client interface, a fluent
RequestBuilder, and a thin real adapter over net/http.

Requests are built through chained setters and finalized by Send, which hands
an immutable Request to whichever adapter the builder is bound to. The real
adapter delegates to a *net/http.Client and converts transport failures into
the backend-agnostic *Error type, so assertion code never needs to know which
backend served a call. The mock adapter lives in the sibling mock package.
*/
package http
