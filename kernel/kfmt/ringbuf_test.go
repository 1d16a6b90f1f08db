package kfmt

import (
	"bytes"
	"io"
	"testing"
)

func TestRingBuffer(t *testing.T) {
	var (
		rb  ringBuffer
		buf bytes.Buffer
	)

	if n, err := rb.Read(make([]byte, 1)); n != 0 || err != io.EOF {
		t.Fatalf("expected empty buffer read to return (0, io.EOF); got (%d, %v)", n, err)
	}

	rb.Write([]byte("hello "))
	rb.Write([]byte("world"))

	if _, err := io.Copy(&buf, &rb); err != nil {
		t.Fatal(err)
	}

	if exp, got := "hello world", buf.String(); got != exp {
		t.Fatalf("expected to read %q; got %q", exp, got)
	}
}

func TestRingBufferOverwrite(t *testing.T) {
	var (
		rb  ringBuffer
		buf bytes.Buffer
	)

	// Write ringBufferSize+2 bytes so the two oldest bytes are dropped.
	data := make([]byte, ringBufferSize+2)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	rb.Write(data)

	if _, err := io.Copy(&buf, &rb); err != nil {
		t.Fatal(err)
	}

	if got := buf.Bytes(); !bytes.Equal(got, data[2:]) {
		t.Fatalf("expected buffer to contain the last %d written bytes", ringBufferSize)
	}
}

func TestRingBufferPartialReads(t *testing.T) {
	var rb ringBuffer
	rb.Write([]byte("abcdef"))

	p := make([]byte, 4)
	if n, _ := rb.Read(p); n != 4 || string(p[:n]) != "abcd" {
		t.Fatalf("expected first read to return \"abcd\"; got %q", p[:n])
	}

	if n, _ := rb.Read(p); n != 2 || string(p[:n]) != "ef" {
		t.Fatalf("expected second read to return \"ef\"; got %q", p[:n])
	}
}
