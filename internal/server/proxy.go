package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/pipeline"
)

// bodyPool reuses buffers for request body reads, avoiding per-request
// allocations from json.NewDecoder (which cannot be pooled/reset).
var bodyPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// maxRequestBody is the maximum allowed request body size (4 MB).
const maxRequestBody = 4 << 20

// readRequestBody reads the request body via bodyPool and returns its bytes.
// Returns false (writing a 400) on read error.
func readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	buf := bodyPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bodyPool.Put(buf)
	if _, err := buf.ReadFrom(r.Body); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return nil, false
	}
	return append([]byte(nil), buf.Bytes()...), true
}

// handleUniversal returns a handler for one of the three bare /v1/* chat
// surfaces. inboundAdapter fixes the dialect of the body the client is
// expected to send; the outbound target is resolved by model lookup.
func (s *server) handleUniversal(inboundAdapter string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := readRequestBody(w, r)
		if !ok {
			return
		}
		model := gjson.GetBytes(body, "model").String()
		stream := gjson.GetBytes(body, "stream").Bool()

		rt, err := s.deps.Router.ResolveUniversal(r.Context(), inboundAdapter, model, requestSource(r))
		if err != nil {
			writeUpstreamError(w, r.Context(), err)
			return
		}
		s.execute(w, r, rt, body, stream)
	}
}

// handleDynamic dispatches a request against configured BridgeProxy paths
// and Provider passthrough slugs -- both dynamic, DB-backed routes that
// can't be registered as static chi routes.
func (s *server) handleDynamic(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodPost {
		rt, err := s.deps.Router.ResolveProxy(r.Context(), r.URL.Path, requestSource(r))
		if err == nil {
			body, ok := readRequestBody(w, r)
			if !ok {
				return
			}
			stream := gjson.GetBytes(body, "stream").Bool()
			s.execute(w, r, rt, body, stream)
			return
		}
	}

	if s.dispatchPassthrough(w, r) {
		return
	}

	writeJSON(w, http.StatusNotFound, errorResponse("not found"))
}

// execute runs the resolved route through the bridge pipeline and logs the
// outcome. The pipeline owns both the streaming and non-streaming paths and
// writes the translated response (or error) directly to w. Non-streaming,
// low-temperature requests are served from and written back to the response
// cache around the pipeline call, since the pipeline itself has no notion of
// caching -- it always talks straight to the upstream.
func (s *server) execute(w http.ResponseWriter, r *http.Request, rt pipeline.Route, body []byte, stream bool) {
	identity := bridge.IdentityFromContext(r.Context())
	if !stream && s.deps.Cache != nil && identity != nil {
		if ir, err := rt.Inbound.ParseRequest(body); err == nil && isCacheable(ir) {
			s.executeCached(w, r, rt, body, identity.KeyID, ir)
			return
		}
	}
	s.logOutcome(r, s.deps.Pipeline.Execute(r.Context(), rt, body, stream, w))
}

func (s *server) executeCached(w http.ResponseWriter, r *http.Request, rt pipeline.Route, body []byte, keyID string, ir *bridge.RequestIR) {
	key := cacheKey(keyID, ir)
	if data, ok := s.deps.Cache.Get(r.Context(), key); ok {
		if s.deps.Metrics != nil {
			s.deps.Metrics.CacheHits.Inc()
		}
		w.Header()["Content-Type"] = jsonCT
		w.WriteHeader(http.StatusOK)
		w.Write(data)
		return
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.CacheMisses.Inc()
	}

	rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
	outcome := s.deps.Pipeline.Execute(r.Context(), rt, body, false, rec)
	if outcome.Err == nil && rec.status == http.StatusOK {
		s.deps.Cache.Set(r.Context(), key, rec.buf.Bytes(), 5*time.Minute)
	}
	s.logOutcome(r, outcome)
}

func (s *server) logOutcome(r *http.Request, outcome pipeline.Outcome) {
	if outcome.Err != nil {
		slog.LogAttrs(r.Context(), slog.LevelWarn, "pipeline error",
			slog.Int("status", outcome.StatusCode),
			slog.String("error", outcome.Err.Error()),
			slog.String("request_id", bridge.RequestIDFromContext(r.Context())),
		)
	}
}

// responseRecorder buffers what the pipeline writes so a successful
// non-streaming response body can be stashed in the cache after the fact,
// while still forwarding every write to the real ResponseWriter immediately.
type responseRecorder struct {
	http.ResponseWriter
	buf    bytes.Buffer
	status int
}

func (rec *responseRecorder) WriteHeader(status int) {
	rec.status = status
	rec.ResponseWriter.WriteHeader(status)
}

func (rec *responseRecorder) Write(p []byte) (int, error) {
	rec.buf.Write(p)
	return rec.ResponseWriter.Write(p)
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func errorResponse(msg string) apiError {
	var e apiError
	e.Error.Message = msg
	e.Error.Type = "invalid_request_error"
	return e
}

// writeUpstreamError logs the full error server-side and returns a sanitized
// message to the client.
func writeUpstreamError(w http.ResponseWriter, ctx context.Context, err error) {
	status := errorStatus(err)
	slog.LogAttrs(ctx, slog.LevelWarn, "route resolve error",
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
	writeJSON(w, status, errorResponse(http.StatusText(status)))
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, bridge.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, bridge.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, bridge.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, bridge.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, bridge.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, bridge.ErrBadRequest), errors.Is(err, bridge.ErrKeyDisabled):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// jsonCT is a pre-allocated header value slice. Direct map assignment
// (w.Header()["Content-Type"] = jsonCT) avoids the []string{v} alloc
// that Header.Set creates on every call.
var jsonCT = []string{"application/json"}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Error("failed to encode response", "error", err)
		return
	}
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(status)
	w.Write(data)
}
