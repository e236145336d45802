package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	bridge "github.com/relayhq/bridge/internal"
	"github.com/relayhq/bridge/internal/pipeline"
)

// streamCancels tracks the cancel func for a conversation's in-flight
// send-message call, so stop-streaming can interrupt it. Keyed by
// conversation ID; a conversation only ever has one live call at a time
// from the desktop UI's perspective.
type streamCancels struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func newStreamCancels() *streamCancels {
	return &streamCancels{m: make(map[string]context.CancelFunc)}
}

func (c *streamCancels) set(id string, cancel context.CancelFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[id] = cancel
}

func (c *streamCancels) clear(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, id)
}

func (c *streamCancels) cancel(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	cancel, ok := c.m[id]
	if ok {
		cancel()
		delete(c.m, id)
	}
	return ok
}

// --- Conversations ---

func (s *server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	offset, limit := pageParams(r)
	convos, err := s.deps.Store.ListConversations(r.Context(), offset, limit)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, convos)
}

func (s *server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.GetConversation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var c bridge.Conversation
	if !decodeJSON(w, r, &c) {
		return
	}
	if c.Title == "" {
		c.Title = "New conversation"
	}
	c.ID = newID()
	c.CreatedAt = time.Now()
	c.UpdatedAt = c.CreatedAt
	if err := s.deps.Store.CreateConversation(r.Context(), &c); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusCreated, &c)
}

func (s *server) handleUpdateConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := s.deps.Store.GetConversation(r.Context(), id)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	if !decodeJSON(w, r, existing) {
		return
	}
	existing.ID = id
	existing.UpdatedAt = time.Now()
	if err := s.deps.Store.UpdateConversation(r.Context(), existing); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, existing)
}

func (s *server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteConversation(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Messages ---

func (s *server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Store.ListMessages(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (s *server) handleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteMessage(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleDeleteMessagePair(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Store.DeleteMessagePair(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sendMessageRequest struct {
	Text   string `json:"text"`
	Stream bool   `json:"stream"`
}

func (s *server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	conv, err := s.deps.Store.GetConversation(r.Context(), convID)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	var body sendMessageRequest
	if !decodeJSON(w, r, &body) {
		return
	}
	if body.Text == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("text is required"))
		return
	}

	userMsg := &bridge.ChatMessage{
		ID: newID(), ConversationID: convID, Role: bridge.RoleUser, Text: body.Text, CreatedAt: time.Now(),
	}
	if err := s.deps.Store.AppendMessage(r.Context(), userMsg); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	s.completeConversation(w, r, conv, body.Stream)
}

// completeConversation replays the full message history through the
// conversation's bound provider or proxy and appends the assistant's reply.
func (s *server) completeConversation(w http.ResponseWriter, r *http.Request, conv *bridge.Conversation, stream bool) {
	history, err := s.deps.Store.ListMessages(r.Context(), conv.ID)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	rt, err := s.resolveConversationRoute(r.Context(), conv)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	ir := &bridge.RequestIR{Model: conv.Model, Stream: false}
	for _, m := range history {
		ir.Messages = append(ir.Messages, bridge.Message{Role: m.Role, Text: m.Text})
	}

	reqBody, err := rt.Inbound.BuildRequest(ir)
	if err != nil {
		writeUpstreamError(w, r.Context(), fmt.Errorf("build upstream request: %w", err))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	s.cancels.set(conv.ID, cancel)
	defer s.cancels.clear(conv.ID)

	rec := &responseRecorder{ResponseWriter: discardWriter{}, status: http.StatusOK}
	outcome := s.deps.Pipeline.Execute(ctx, rt, reqBody, false, rec)
	if outcome.Err != nil {
		if stream {
			writeStreamError(w, outcome.Err)
			return
		}
		writeUpstreamError(w, r.Context(), outcome.Err)
		return
	}

	respIR, err := rt.Outbound.ParseResponse(rec.buf.Bytes())
	if err != nil {
		writeUpstreamError(w, r.Context(), fmt.Errorf("parse upstream response: %w", err))
		return
	}
	text := ""
	if len(respIR.Choices) > 0 {
		text = respIR.Choices[0].Message.Text
	}

	assistantMsg := &bridge.ChatMessage{
		ID: newID(), ConversationID: conv.ID, Role: bridge.RoleAssistant, Text: text, CreatedAt: time.Now(),
	}
	if err := s.deps.Store.AppendMessage(r.Context(), assistantMsg); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}

	if stream {
		writeStreamReply(w, assistantMsg)
		return
	}
	writeJSON(w, http.StatusOK, assistantMsg)
}

func (s *server) resolveConversationRoute(ctx context.Context, conv *bridge.Conversation) (pipeline.Route, error) {
	source := bridge.SourceLocal
	switch {
	case conv.ProxyID != "":
		return s.deps.Router.ResolveProxyByID(ctx, conv.ProxyID, source)
	case conv.ProviderID != "":
		return s.deps.Router.ResolveProvider(ctx, conv.ProviderID, source)
	default:
		return pipeline.Route{}, bridge.ErrBadRequest
	}
}

func (s *server) handleStopStreaming(w http.ResponseWriter, r *http.Request) {
	s.cancels.cancel(chi.URLParam(r, "id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleRegenerateMessage(w http.ResponseWriter, r *http.Request) {
	convID := chi.URLParam(r, "id")
	conv, err := s.deps.Store.GetConversation(r.Context(), convID)
	if err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	assistantID := chi.URLParam(r, "messageId")
	if err := s.deps.Store.DeleteMessage(r.Context(), assistantID); err != nil {
		writeUpstreamError(w, r.Context(), err)
		return
	}
	var stream bool
	if v := r.URL.Query().Get("stream"); v == "true" {
		stream = true
	}
	s.completeConversation(w, r, conv, stream)
}

// chatStreamEvent mirrors the chat:stream-* event names the desktop UI's
// renderer listens for, carried as newline-delimited SSE frames instead of
// an IPC channel.
type chatStreamEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text,omitempty"`
	*bridge.ChatMessage
}

func writeStreamReply(w http.ResponseWriter, msg *bridge.ChatMessage) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	writeSSE(w, "chat:stream-start", chatStreamEvent{Kind: "start"})
	writeSSE(w, "chat:stream-content", chatStreamEvent{Kind: "content", Text: msg.Text})
	writeSSE(w, "chat:stream-end", chatStreamEvent{Kind: "end", ChatMessage: msg})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeStreamError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "text/event-stream")
	writeSSE(w, "chat:stream-error", chatStreamEvent{Kind: "error", Text: err.Error()})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
}

func writeSSE(w http.ResponseWriter, event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
}

// discardWriter satisfies http.ResponseWriter for the pipeline's
// non-streaming call inside completeConversation -- the bridge pipeline's
// wire-format bytes are only an intermediate value here, reparsed into IR
// immediately after, never sent to the actual client as-is.
type discardWriter struct{}

func (discardWriter) Header() http.Header         { return http.Header{} }
func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }
func (discardWriter) WriteHeader(int)             {}
