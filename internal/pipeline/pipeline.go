// Package pipeline turns one client request into one upstream request and
// proxies the reply, translating between the inbound and outbound dialect
// adapters at each end. It owns retries, per-provider circuit breaking,
// pool-account failover, and request logging; it knows nothing about HTTP
// routing or how a Route was resolved -- that is the local front-end's job.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
	"github.com/relayhq/bridge/internal/circuitbreaker"
)

// requestLogBodyCap bounds how much of the raw request/response body is
// retained on a RequestLog row; bodies are for debugging, not replay.
const requestLogBodyCap = 8 << 10

// maxUpstreamBody caps how much of a non-streaming upstream response is
// read into memory.
const maxUpstreamBody = 32 << 20

// Store is the slice of storage.Store the pipeline needs to persist a
// completed call. Defined here rather than imported from storage/sqlite to
// keep the pipeline package free of a concrete storage dependency.
type Store interface {
	InsertRequestLog(ctx context.Context, l *bridge.RequestLog) error
}

// Config holds the retry and breaker parameters the bridge pipeline uses.
// All fields have sane defaults via DefaultConfig.
type Config struct {
	RetryOn        map[int]bool
	MaxRetries     int
	RetryDelay     time.Duration
	RequestTimeout time.Duration
	Breaker        circuitbreaker.Config
}

// DefaultConfig returns the defaults named in the pipeline's retry and
// circuit-breaker policy: retry on 429/500/502/503/504 up to 2 extra
// attempts with exponential backoff starting at 250ms.
func DefaultConfig() Config {
	return Config{
		RetryOn:        map[int]bool{429: true, 500: true, 502: true, 503: true, 504: true},
		MaxRetries:     2,
		RetryDelay:     250 * time.Millisecond,
		RequestTimeout: 120 * time.Second,
		Breaker:        circuitbreaker.DefaultConfig(),
	}
}

// Pipeline executes routed requests against resolved upstream endpoints.
type Pipeline struct {
	http     *http.Client
	store    Store
	breakers *circuitbreaker.Registry
	cfg      Config
	log      *slog.Logger
}

// New returns a Pipeline. client is the tuned *http.Client (see
// adapter.NewTransport) used for every upstream call.
func New(client *http.Client, store Store, cfg Config, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		http:     client,
		store:    store,
		breakers: circuitbreaker.NewRegistry(cfg.Breaker),
		cfg:      cfg,
		log:      log,
	}
}

// AccountSelection is what a pool's SelectAccount callback hands back: the
// account id (for breaker keying and MarkAccountResult) and the bearer
// token to carry as the outbound Authorization header.
type AccountSelection struct {
	AccountID string
	Token     string
}

// Route is everything the pipeline needs to execute one call: which
// adapters translate each end, where the upstream lives, and how to
// authenticate against it. Route is built by the caller (the local HTTP
// front-end) from the resolved Provider/BridgeProxy/ModelMapping rows.
type Route struct {
	Inbound  adapter.Adapter
	Outbound adapter.Adapter

	ProviderID    string // circuit-breaker key
	BaseURL       string
	ChatPath      string // may contain "{model}"
	ModelMappings []*bridge.ModelMapping

	ProxyID   string
	ProxyPath string
	Source    bridge.RequestSource

	// Static auth: used when SelectAccount is nil.
	APIKey       string
	ExtraHeaders map[string]string // e.g. anthropic-version

	// Pool auth: when set, the pipeline calls SelectAccount instead of
	// using APIKey, and calls it again (excluding the failed account) to
	// retry once on a 401/403 from the selected account.
	SelectAccount     func(ctx context.Context, exclude map[string]bool) (AccountSelection, error)
	MarkAccountResult func(ctx context.Context, accountID string, status int)
}

// Outcome summarizes what happened, for the caller's own logging/metrics;
// the pipeline has already persisted the RequestLog row by the time it
// returns.
type Outcome struct {
	StatusCode int
	Err        error
}

// Execute runs the bridge pipeline algorithm end to end, writing the
// translated response (or error) directly to w.
func (p *Pipeline) Execute(ctx context.Context, rt Route, reqBody []byte, stream bool, w http.ResponseWriter) Outcome {
	start := time.Now()

	ir, err := rt.Inbound.ParseRequest(reqBody)
	if err != nil {
		writeGenericError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return Outcome{StatusCode: http.StatusBadRequest, Err: err}
	}

	sourceModel := ir.Model
	applyModelMapping(ir, rt.ModelMappings)
	targetModel := ir.Model

	entry := &bridge.RequestLog{
		ProxyID:     rt.ProxyID,
		ProxyPath:   rt.ProxyPath,
		SourceModel: sourceModel,
		TargetModel: targetModel,
		Source:      rt.Source,
		CreatedAt:   start,
	}
	entry.RequestBody = capBody(reqBody)

	outBody, err := rt.Outbound.BuildRequest(ir)
	if err != nil {
		entry.HTTPStatus = http.StatusBadGateway
		entry.Error = err.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, "cannot translate request: "+err.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: err}
	}

	if stream {
		return p.executeStream(ctx, rt, ir, outBody, entry, start, w)
	}
	return p.executeOnce(ctx, rt, ir, outBody, entry, start, w)
}

func (p *Pipeline) executeOnce(ctx context.Context, rt Route, ir *bridge.RequestIR, outBody []byte, entry *bridge.RequestLog, start time.Time, w http.ResponseWriter) Outcome {
	fetchCtx := ctx
	if p.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(ctx, p.cfg.RequestTimeout)
		defer cancel()
	}
	resp, accountID, err := p.fetch(fetchCtx, rt, ir.Model, outBody)
	if err != nil {
		entry.HTTPStatus = http.StatusBadGateway
		entry.Error = err.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, err.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: err}
	}
	defer resp.Body.Close()

	payload, readErr := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	p.recordOutcome(rt, accountID, resp.StatusCode)

	entry.HTTPStatus = resp.StatusCode
	entry.ResponseBody = capBody(payload)

	if resp.StatusCode >= 400 {
		if rt.SelectAccount != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && accountID != "" {
			if retryResp, retryAccount, retryErr := p.reselectAndRetry(fetchCtx, rt, ir.Model, outBody, accountID, resp.StatusCode); retryErr == nil {
				defer retryResp.Body.Close()
				payload, readErr = io.ReadAll(io.LimitReader(retryResp.Body, maxUpstreamBody))
				p.recordOutcome(rt, retryAccount, retryResp.StatusCode)
				resp = retryResp
				entry.HTTPStatus = resp.StatusCode
				entry.ResponseBody = capBody(payload)
			}
		}
	}

	if readErr != nil {
		entry.Error = readErr.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, "reading upstream response: "+readErr.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: readErr}
	}

	if entry.HTTPStatus >= 400 {
		errIR := rt.Outbound.ParseError(entry.HTTPStatus, payload)
		entry.Error = errIR.Message
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeClientError(w, errIR)
		return Outcome{StatusCode: errIR.Kind.HTTPStatus(), Err: errIR}
	}

	rir, err := rt.Outbound.ParseResponse(payload)
	if err != nil {
		entry.Error = err.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, "cannot parse upstream response: "+err.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: err}
	}

	out, err := rt.Inbound.BuildResponse(rir)
	if err != nil {
		entry.Error = err.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, "cannot translate response: "+err.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: err}
	}

	entry.InputTokens = rir.Usage.PromptTokens
	entry.OutputTokens = rir.Usage.CompletionTokens
	entry.LatencyMillis = time.Since(start).Milliseconds()
	p.insertLog(ctx, entry)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(out)
	return Outcome{StatusCode: http.StatusOK}
}

// fetch resolves auth (static or pool), builds the HTTP request, and runs
// it through the circuit breaker and retry policy. It returns the account
// id selected (empty for static-key providers) so the caller can mark its
// outcome and exclude it on a pool reselect.
func (p *Pipeline) fetch(ctx context.Context, rt Route, model string, body []byte) (*http.Response, string, error) {
	breaker := p.breakers.GetOrCreate(rt.ProviderID)
	if !breaker.Allow() {
		return nil, "", errors.New("circuit open for provider " + rt.ProviderID)
	}

	header, value, accountID, err := p.resolveAuth(ctx, rt, nil)
	if err != nil {
		breaker.RecordError(1)
		return nil, "", err
	}

	resp, err := p.doFetchWithRetry(ctx, rt, model, body, header, value)
	if err != nil {
		breaker.RecordError(1)
		return nil, accountID, err
	}
	return resp, accountID, nil
}

// reselectAndRetry implements the pool-provider 401/403 failover: mark the
// failed account, select a different one, and retry exactly once (outside
// the normal retry budget, per spec's "at most once").
func (p *Pipeline) reselectAndRetry(ctx context.Context, rt Route, model string, body []byte, failedAccount string, failedStatus int) (*http.Response, string, error) {
	if rt.MarkAccountResult != nil {
		rt.MarkAccountResult(ctx, failedAccount, failedStatus)
	}
	header, value, accountID, err := p.resolveAuth(ctx, rt, map[string]bool{failedAccount: true})
	if err != nil {
		return nil, "", err
	}

	breaker := p.breakers.GetOrCreate(rt.ProviderID)
	if !breaker.Allow() {
		return nil, "", errors.New("circuit open for provider " + rt.ProviderID)
	}
	req, err := p.newRequest(ctx, rt, model, body, header, value)
	if err != nil {
		return nil, accountID, err
	}
	resp, err := p.http.Do(req)
	if err != nil {
		breaker.RecordError(1)
		return nil, accountID, err
	}
	return resp, accountID, nil
}

func (p *Pipeline) resolveAuth(ctx context.Context, rt Route, exclude map[string]bool) (header, value, accountID string, err error) {
	if rt.SelectAccount == nil {
		h, v := rt.Outbound.AuthHeader(rt.APIKey)
		return h, v, "", nil
	}
	sel, err := rt.SelectAccount(ctx, exclude)
	if err != nil {
		return "", "", "", fmt.Errorf("select pool account: %w", err)
	}
	h, v := rt.Outbound.AuthHeader(sel.Token)
	return h, v, sel.AccountID, nil
}

func (p *Pipeline) newRequest(ctx context.Context, rt Route, model string, body []byte, header, value string) (*http.Request, error) {
	target := buildURL(rt.BaseURL, rt.ChatPath, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if header == "" {
		q := req.URL.Query()
		q.Set("key", value)
		req.URL.RawQuery = q.Encode()
	} else {
		req.Header.Set(header, value)
	}
	for k, v := range rt.ExtraHeaders {
		req.Header.Set(k, v)
	}
	return req, nil
}

// buildURL substitutes "{model}" in path if present, otherwise appends path
// unchanged (most dialects take the model in the request body instead).
func buildURL(baseURL, path, model string) string {
	base := strings.TrimRight(baseURL, "/")
	if strings.Contains(path, "{model}") {
		path = strings.ReplaceAll(path, "{model}", url.PathEscape(model))
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

func (p *Pipeline) recordOutcome(rt Route, accountID string, status int) {
	breaker := p.breakers.GetOrCreate(rt.ProviderID)
	if status >= 400 {
		breaker.RecordError(1)
	} else {
		breaker.RecordSuccess()
	}
	if status < 400 && accountID != "" && rt.MarkAccountResult != nil {
		rt.MarkAccountResult(context.Background(), accountID, status)
	}
}

func (p *Pipeline) insertLog(ctx context.Context, entry *bridge.RequestLog) {
	if p.store == nil {
		return
	}
	if err := p.store.InsertRequestLog(ctx, entry); err != nil {
		p.log.Warn("insert request log", "error", err)
	}
}

// applyModelMapping rewrites ir.Model per the pipeline's model-mapping
// rule: exact source match wins, otherwise the proxy's default mapping (at
// most one, enforced at the storage layer), otherwise leave unchanged.
func applyModelMapping(ir *bridge.RequestIR, mappings []*bridge.ModelMapping) {
	var def *bridge.ModelMapping
	for _, m := range mappings {
		if m.IsDefault {
			def = m
			continue
		}
		if m.SourceModel == ir.Model {
			ir.Model = m.TargetModel
			return
		}
	}
	if def != nil {
		ir.Model = def.TargetModel
	}
}

func capBody(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	if len(b) > requestLogBodyCap {
		return b[:requestLogBodyCap]
	}
	return b
}

// writeGenericError writes a minimal {"error":{"message","type"}} envelope.
// It is deliberately dialect-agnostic: the Adapter contract has no
// "BuildError" method (error re-serialization for client-facing dialects
// lives in the HTTP front-end), so pipeline-internal failures that never
// reached a vendor use this shared shape instead.
func writeGenericError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"message":%q,"type":"pipeline_error"}}`, msg)
}

// writeClientError reports a vendor-originated ErrorIR using the same
// generic envelope, mapped to an HTTP status via the IR's error taxonomy.
func writeClientError(w http.ResponseWriter, errIR *bridge.ErrorIR) {
	writeGenericError(w, errIR.Kind.HTTPStatus(), errIR.Message)
}
