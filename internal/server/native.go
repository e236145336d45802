package server

import (
	"log/slog"
	"net/http"
	"strings"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
	"github.com/relayhq/bridge/internal/adapter/anthropic"
	"github.com/relayhq/bridge/internal/adapter/gemini"
)

// apiKeyRoundTripper injects a static header into every outbound request.
// Anthropic's Client expects auth to arrive via its http.Client's transport
// chain rather than through ForwardRequest's setAuth hook.
type apiKeyRoundTripper struct {
	header string
	key    string
	base   http.RoundTripper
}

func (t *apiKeyRoundTripper) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set(t.header, t.key)
	return t.base.RoundTrip(r)
}

// dispatchPassthrough serves a request against a Provider's raw passthrough
// slug (e.g. /<slug>/v1/messages forwarded verbatim to Anthropic, or
// /<slug>/v1beta/... forwarded to Gemini). It reports whether it handled the
// request; a false return means the caller should fall through to a 404.
//
// Scoped to anthropic and gemini: these are the only two dialects whose
// Client exposes ProxyRequest. Azure OpenAI and Ollama native passthrough
// are left unimplemented since no such Client exists for them here.
func (s *server) dispatchPassthrough(w http.ResponseWriter, r *http.Request) bool {
	if s.deps.Router == nil {
		return false
	}
	slug, rest := splitSlug(r.URL.Path)
	if slug == "" {
		return false
	}

	p, apiKey, err := s.deps.Router.ResolvePassthrough(r.Context(), slug)
	if err != nil {
		return false
	}

	var proxyErr error
	switch p.AdapterType {
	case "anthropic":
		client := &http.Client{Transport: &apiKeyRoundTripper{
			header: "x-api-key",
			key:    apiKey,
			base:   adapter.NewTransport(nil, true),
		}}
		proxyErr = anthropic.New(p.ID, p.BaseURL, client).ProxyRequest(r.Context(), w, r, rest)
	case "google":
		proxyErr = gemini.New(apiKey, p.BaseURL, nil).ProxyRequest(r.Context(), w, r, rest)
	default:
		return false
	}

	if proxyErr != nil {
		slog.LogAttrs(r.Context(), slog.LevelError, "native passthrough error",
			slog.String("provider", p.ID),
			slog.String("error", proxyErr.Error()),
			slog.String("request_id", bridge.RequestIDFromContext(r.Context())),
		)
	}
	return true
}

// splitSlug splits a request path into its leading segment (the provider
// slug) and the remainder (the path to forward upstream, always starting
// with "/"). Returns ("", "") if the path has no leading segment.
func splitSlug(path string) (slug, rest string) {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "", ""
	}
	i := strings.IndexByte(trimmed, '/')
	if i < 0 {
		return trimmed, "/"
	}
	return trimmed[:i], trimmed[i:]
}
