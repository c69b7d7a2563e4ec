package session

import (
	"fmt"
	"testing"

	"gdb-bridge/internal/protocol"
)

func makeChunk(id int) protocol.ProcessOutput {
	return protocol.ProcessOutput{
		Stream: protocol.StreamPrimary,
		Data:   fmt.Sprintf("chunk-%d", id),
	}
}

func TestRingBuffer_EmptyRead(t *testing.T) {
	rb := NewRingBuffer(10)
	if got := rb.ReadAll(); len(got) != 0 {
		t.Errorf("expected empty buffer, got %d chunks", len(got))
	}
}

func TestRingBuffer_PartialFill(t *testing.T) {
	rb := NewRingBuffer(10)
	for i := 0; i < 5; i++ {
		rb.Write(makeChunk(i))
	}

	chunks := rb.ReadAll()
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if want := fmt.Sprintf("chunk-%d", i); c.Data != want {
			t.Errorf("chunk %d: expected %s, got %s", i, want, c.Data)
		}
	}
}

func TestRingBuffer_Overflow(t *testing.T) {
	rb := NewRingBuffer(5)
	for i := 0; i < 8; i++ {
		rb.Write(makeChunk(i))
	}

	if rb.Len() != 5 {
		t.Fatalf("expected Len 5, got %d", rb.Len())
	}
	chunks := rb.ReadAll()
	if len(chunks) != 5 {
		t.Fatalf("expected 5 chunks, got %d", len(chunks))
	}
	// Oldest three were evicted.
	for i, c := range chunks {
		if want := fmt.Sprintf("chunk-%d", i+3); c.Data != want {
			t.Errorf("chunk %d: expected %s, got %s", i, want, c.Data)
		}
	}
}

func TestRingBuffer_ExactCapacity(t *testing.T) {
	rb := NewRingBuffer(3)
	for i := 0; i < 3; i++ {
		rb.Write(makeChunk(i))
	}

	chunks := rb.ReadAll()
	if len(chunks) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if want := fmt.Sprintf("chunk-%d", i); c.Data != want {
			t.Errorf("chunk %d: expected %s, got %s", i, want, c.Data)
		}
	}
}

func TestRingBuffer_ZeroCapacity(t *testing.T) {
	rb := NewRingBuffer(0)
	rb.Write(makeChunk(1))
	if got := rb.ReadAll(); len(got) != 0 {
		t.Errorf("expected nothing kept, got %d chunks", len(got))
	}
}

func TestRingBuffer_ReadAllIsACopy(t *testing.T) {
	rb := NewRingBuffer(2)
	rb.Write(makeChunk(0))

	chunks := rb.ReadAll()
	chunks[0].Data = "mutated"

	if got := rb.ReadAll()[0].Data; got != "chunk-0" {
		t.Errorf("buffer changed through ReadAll result: %s", got)
	}
}
