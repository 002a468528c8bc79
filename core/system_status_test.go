package core

import (
	"bufio"
	"strings"
	"testing"
)

func TestParseMemInfo(t *testing.T) {
	in := "MemTotal:        2048 kB\nMemFree:          100 kB\nMemAvailable:     512 kB\n"
	got := parseMemInfo(bufio.NewScanner(strings.NewReader(in)))
	if got.TotalBytes != 2048*1024 || got.UsedBytes != 1536*1024 {
		t.Fatalf("unexpected memory status: %+v", got)
	}

	if got := parseMemInfo(bufio.NewScanner(strings.NewReader("garbage\n"))); got != (MemoryStatus{}) {
		t.Fatalf("expected zeros, got %+v", got)
	}
}
