package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws/protocol/eventstream"
	"github.com/tidwall/gjson"

	bridge "github.com/relayhq/bridge/internal"
)

// ReadBedrockStream decodes AWS binary event-stream frames from a Bedrock
// invoke-with-response-stream response body and emits IR stream events on
// the returned channel, closing it when the body is exhausted or ctx is
// canceled. Each frame's payload contains {"bytes":"<base64>"} where the
// decoded bytes are standard Anthropic event JSON, fed through the same
// Parser used for direct/Vertex SSE streams.
func ReadBedrockStream(ctx context.Context, body io.ReadCloser) <-chan bridge.StreamEvent {
	ch := make(chan bridge.StreamEvent, 8)
	go func() {
		defer close(ch)
		defer body.Close()

		parser := NewParser()
		decoder := eventstream.NewDecoder()

		for {
			msg, err := decoder.Decode(body, nil)
			if err != nil {
				if !errors.Is(err, io.EOF) {
					emit(ctx, ch, bridge.StreamEvent{
						Kind:  bridge.StreamErrorKind,
						Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: fmt.Sprintf("anthropic: decode event stream: %v", err)},
					})
				}
				return
			}

			msgType := headerValue(msg.Headers, ":message-type")
			if msgType == "exception" {
				errType := headerValue(msg.Headers, ":exception-type")
				if len(errType) > 64 {
					errType = errType[:64]
				}
				payload := msg.Payload
				if len(payload) > 512 {
					payload = payload[:512]
				}
				emit(ctx, ch, bridge.StreamEvent{
					Kind:  bridge.StreamErrorKind,
					Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: fmt.Sprintf("bedrock exception: %s: %s", errType, payload)},
				})
				return
			}
			if msgType != "event" {
				continue
			}

			decoded, err := extractEventBytes(msg.Payload)
			if err != nil {
				emit(ctx, ch, bridge.StreamEvent{
					Kind:  bridge.StreamErrorKind,
					Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: fmt.Sprintf("anthropic: extract event bytes: %v", err)},
				})
				return
			}

			events, err := parser.Parse(decoded)
			if err != nil {
				emit(ctx, ch, bridge.StreamEvent{
					Kind:  bridge.StreamErrorKind,
					Error: &bridge.ErrorIR{Kind: bridge.ErrKindAPI, Message: fmt.Sprintf("anthropic: parse event: %v", err)},
				})
				return
			}
			for _, ev := range events {
				if !emit(ctx, ch, ev) {
					return
				}
			}
		}
	}()
	return ch
}

func emit(ctx context.Context, ch chan<- bridge.StreamEvent, ev bridge.StreamEvent) bool {
	select {
	case ch <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// headerValue extracts a string header value from event stream headers.
func headerValue(headers eventstream.Headers, name string) string {
	v := headers.Get(name)
	if v == nil {
		return ""
	}
	if sv, ok := v.(eventstream.StringValue); ok {
		return string(sv)
	}
	return ""
}

// extractEventBytes extracts and base64-decodes the "bytes" field from a
// Bedrock event stream payload. The payload format is {"bytes":"<base64>"}.
func extractEventBytes(payload []byte) ([]byte, error) {
	b64 := gjson.GetBytes(payload, "bytes").String()
	if b64 == "" {
		return nil, fmt.Errorf("missing bytes field in payload")
	}
	decoded, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", err)
	}
	return decoded, nil
}
