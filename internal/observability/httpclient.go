package observability

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// NewHTTPClient returns an http.Client instrumented with otelhttp transport.
// component names the mnemo collaborator issuing requests ("embedder",
// "reflector") so traces distinguish provider calls without inspecting URLs.
func NewHTTPClient(base *http.Client, component string) *http.Client {
	if base == nil {
		base = &http.Client{}
	}
	rt := base.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	base.Transport = otelhttp.NewTransport(rt, otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
		if component == "" {
			return operation
		}
		return component + " " + operation
	}))
	return base
}
