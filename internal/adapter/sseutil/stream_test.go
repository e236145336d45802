package sseutil

import (
	"io"
	"strings"
	"testing"
)

func TestFrameReaderNext(t *testing.T) {
	t.Parallel()

	input := "event: message_start\ndata: {\"a\":1}\n\ndata: {\"a\":2}\n\n"
	fr := NewFrameReader(strings.NewReader(input))

	f1, err := fr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f1.Name != "message_start" || string(f1.Data) != `{"a":1}` {
		t.Errorf("f1 = %+v", f1)
	}

	f2, err := fr.Next()
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f2.Name != "" || string(f2.Data) != `{"a":2}` {
		t.Errorf("f2 = %+v", f2)
	}

	if _, err := fr.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}
