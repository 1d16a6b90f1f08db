package physmem

import (
	"testing"

	"zados/kernel/mm"
)

func TestArenaWords(t *testing.T) {
	arena := NewArena(16*mm.PageSize - 1)

	if got := arena.Len(); got != 16*mm.PageSize {
		t.Fatalf("expected arena size to be rounded up to 0x%x; got 0x%x", 16*mm.PageSize, got)
	}

	words, err := arena.Words(3 * mm.PageSize)
	if err != nil {
		t.Fatal(err)
	}

	for i, w := range words {
		if w != 0 {
			t.Fatalf("expected fresh frame to be zeroed; word %d = 0x%x", i, w)
		}
	}

	words[1] = 0xdeadbeef
	again, _ := arena.Words(3 * mm.PageSize)
	if again[1] != 0xdeadbeef {
		t.Fatal("expected Words to return a view aliasing the arena contents")
	}

	if got := arena.FrameCount(); got != 1 {
		t.Fatalf("expected 1 materialised frame; got %d", got)
	}
}

func TestArenaErrors(t *testing.T) {
	arena := NewArena(4 * mm.PageSize)

	if _, err := arena.Words(0x1008); err != ErrMisaligned {
		t.Errorf("expected ErrMisaligned; got %v", err)
	}

	if _, err := arena.Words(4 * mm.PageSize); err != ErrOutOfBounds {
		t.Errorf("expected ErrOutOfBounds; got %v", err)
	}

	if _, err := arena.LoadByte(4*mm.PageSize + 7); err != ErrOutOfBounds {
		t.Errorf("expected ErrOutOfBounds; got %v", err)
	}

	if err := arena.StoreByte(1<<40, 1); err != ErrOutOfBounds {
		t.Errorf("expected ErrOutOfBounds; got %v", err)
	}

	if err := arena.Zero(0x10, 1); err != ErrMisaligned {
		t.Errorf("expected ErrMisaligned; got %v", err)
	}

	if err := arena.Zero(2*mm.PageSize, 3); err != ErrOutOfBounds {
		t.Errorf("expected ErrOutOfBounds; got %v", err)
	}
}

func TestArenaBytes(t *testing.T) {
	arena := NewArena(4 * mm.PageSize)

	if err := arena.StoreByte(0x1003, 0xaa); err != nil {
		t.Fatal(err)
	}

	got, err := arena.LoadByte(0x1003)
	if err != nil {
		t.Fatal(err)
	}
	if got != 0xaa {
		t.Fatalf("expected 0xaa; got 0x%x", got)
	}

	words, _ := arena.Words(0x1000)
	if words[0] == 0 {
		t.Fatal("expected byte store to be visible through the word view")
	}

	if err := arena.Zero(0x1000, 2); err != nil {
		t.Fatal(err)
	}

	if got, _ = arena.LoadByte(0x1003); got != 0 {
		t.Fatalf("expected Zero to clear the frame; got 0x%x", got)
	}
}
