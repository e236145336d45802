package pipeline

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/adapter"
	"github.com/relayhq/bridge/internal/adapter/sseutil"
)

var (
	sseDataPrefix  = []byte("data: ")
	sseEventPrefix = []byte("event: ")
	sseNewline     = []byte("\n\n")
)

func writeSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
}

func writeSSEFrame(w http.ResponseWriter, flusher http.Flusher, ev adapter.SSEEvent) {
	if ev.Name != "" {
		w.Write(sseEventPrefix)
		w.Write([]byte(ev.Name))
		w.Write([]byte("\n"))
	}
	w.Write(sseDataPrefix)
	w.Write(ev.Data)
	w.Write(sseNewline)
	if flusher != nil {
		flusher.Flush()
	}
}

// executeStream opens the upstream SSE body, feeds each frame through the
// outbound StreamParser into IR events, then each IR event into the
// inbound StreamBuilder, writing frames to w as soon as they're produced.
// The pipeline never retries once a frame has reached the client.
func (p *Pipeline) executeStream(ctx context.Context, rt Route, ir *bridge.RequestIR, outBody []byte, entry *bridge.RequestLog, start time.Time, w http.ResponseWriter) Outcome {
	resp, accountID, err := p.fetch(ctx, rt, ir.Model, outBody)
	if err != nil {
		entry.HTTPStatus = http.StatusBadGateway
		entry.Error = err.Error()
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeGenericError(w, http.StatusBadGateway, err.Error())
		return Outcome{StatusCode: http.StatusBadGateway, Err: err}
	}

	if resp.StatusCode >= 400 && rt.SelectAccount != nil &&
		(resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && accountID != "" {
		p.recordOutcome(rt, accountID, resp.StatusCode)
		resp.Body.Close()
		if retryResp, retryAccount, retryErr := p.reselectAndRetry(ctx, rt, ir.Model, outBody, accountID, resp.StatusCode); retryErr == nil {
			resp, accountID = retryResp, retryAccount
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
		p.recordOutcome(rt, accountID, resp.StatusCode)

		errIR := rt.Outbound.ParseError(resp.StatusCode, errBody)
		entry.HTTPStatus = resp.StatusCode
		entry.Error = errIR.Message
		entry.LatencyMillis = time.Since(start).Milliseconds()
		p.insertLog(ctx, entry)
		writeClientError(w, errIR)
		return Outcome{StatusCode: errIR.Kind.HTTPStatus(), Err: errIR}
	}

	p.recordOutcome(rt, accountID, resp.StatusCode)
	writeSSEHeaders(w)
	flusher, _ := w.(http.Flusher)

	parser := rt.Outbound.NewStreamParser()
	builder := rt.Inbound.NewStreamBuilder()
	reader := sseutil.NewFrameReader(resp.Body)

	var usage *bridge.Usage
	var streamErr error

	for {
		if ctx.Err() != nil {
			streamErr = ctx.Err()
			break
		}
		frame, err := reader.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				streamErr = err
			}
			break
		}
		events, err := parser.Parse(frame.Data)
		if err != nil {
			streamErr = err
			break
		}
		for _, ev := range events {
			if ev.Usage != nil {
				usage = ev.Usage
			}
			for _, out := range builder.Process(ev) {
				writeSSEFrame(w, flusher, out)
			}
		}
	}

	for _, out := range builder.Finalize() {
		writeSSEFrame(w, flusher, out)
	}

	entry.HTTPStatus = http.StatusOK
	if usage != nil {
		entry.InputTokens = usage.PromptTokens
		entry.OutputTokens = usage.CompletionTokens
	}
	if streamErr != nil {
		entry.Error = streamErr.Error()
	}
	entry.LatencyMillis = time.Since(start).Milliseconds()
	p.insertLog(ctx, entry)

	return Outcome{StatusCode: http.StatusOK, Err: streamErr}
}
