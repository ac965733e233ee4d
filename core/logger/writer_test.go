package logger

import (
	"bytes"
	"io"
	"testing"
)

func TestAsyncWriterRejectsWritesAfterClose(t *testing.T) {
	buf := &bytes.Buffer{}
	aw := newAsyncWriter([]io.Writer{buf}, 16)

	if err := aw.Write([]byte("one\n")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := aw.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := aw.Write([]byte("two\n")); err != errWriterClosed {
		t.Fatalf("write after close: got %v", err)
	}
	if err := aw.Flush(); err != nil {
		t.Fatalf("flush after close: %v", err)
	}
	if got := buf.String(); got != "one\n" {
		t.Fatalf("unexpected output %q", got)
	}
}

func TestRatioSampler(t *testing.T) {
	s := newRatioSampler(1, 3)
	var kept int
	for i := 0; i < 9; i++ {
		if s.Allow() {
			kept++
		}
	}
	if kept != 3 {
		t.Fatalf("kept %d of 9, want 3", kept)
	}

	s.Set(0, 0)
	if !s.Allow() {
		t.Fatal("disabled sampler must allow")
	}
}

func TestParseRatioSpec(t *testing.T) {
	cases := map[string][2]int{
		"":      {0, 0},
		"1/10":  {1, 10},
		" 20 ":  {1, 20},
		"x/2":   {0, 0},
		"-3":    {0, 0},
		"bogus": {0, 0},
	}
	for spec, want := range cases {
		k, n := parseRatioSpec(spec)
		if k != want[0] || n != want[1] {
			t.Errorf("parseRatioSpec(%q) = %d/%d, want %d/%d", spec, k, n, want[0], want[1])
		}
	}
}
