package main

import (
	"testing"
	"time"

	"gadgetgrid/internal/protocol"
)

func TestInputInterval(t *testing.T) {
	if got := inputInterval(protocol.Limits{InputsPerSecond: 10}); got != 110*time.Millisecond {
		t.Fatalf("got %v", got)
	}
	if got := inputInterval(protocol.Limits{}); got != time.Second {
		t.Fatalf("got %v", got)
	}
}

func TestDirsAreCardinal(t *testing.T) {
	for _, d := range dirs {
		if !protocol.IsCardinal(d) {
			t.Fatalf("%v is not cardinal", d)
		}
	}
}
