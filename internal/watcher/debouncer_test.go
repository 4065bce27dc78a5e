package watcher

import (
	"testing"
	"time"
)

func TestDebouncer_SingleEvent(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	defer d.Stop()

	d.Add("config.yaml", OpWrite)

	select {
	case event := <-d.Events():
		if event.Path != "config.yaml" {
			t.Errorf("expected path 'config.yaml', got %q", event.Path)
		}
		if event.Op != OpWrite {
			t.Errorf("expected OpWrite, got %v", event.Op)
		}
	case <-time.After(500 * time.Millisecond):
		t.Error("timed out waiting for event")
	}
}

func TestDebouncer_CoalesceWrites(t *testing.T) {
	d := NewDebouncer(100 * time.Millisecond)
	defer d.Stop()

	// Rapid writes to same file
	d.Add("config.yaml", OpWrite)
	d.Add("config.yaml", OpWrite)
	d.Add("config.yaml", OpWrite)

	eventCount := 0
	timeout := time.After(400 * time.Millisecond)

loop:
	for {
		select {
		case <-d.Events():
			eventCount++
		case <-timeout:
			break loop
		}
	}

	if eventCount != 1 {
		t.Errorf("expected 1 coalesced event, got %d", eventCount)
	}
}

func TestDebouncer_LastOpWins(t *testing.T) {
	tests := []struct {
		name string
		ops  []Op
		want Op
	}{
		{"replaced on save", []Op{OpRemove, OpWrite}, OpWrite},
		{"written then removed", []Op{OpWrite, OpRemove}, OpRemove},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDebouncer(50 * time.Millisecond)
			defer d.Stop()

			for _, op := range tt.ops {
				d.Add("config.yaml", op)
			}

			select {
			case event := <-d.Events():
				if event.Op != tt.want {
					t.Errorf("got %v, want %v", event.Op, tt.want)
				}
			case <-time.After(500 * time.Millisecond):
				t.Error("timed out waiting for event")
			}
		})
	}
}

func TestDebouncer_Flush(t *testing.T) {
	d := NewDebouncer(5 * time.Second)
	defer d.Stop()

	d.Add(".env", OpWrite)
	if d.Pending() != 1 {
		t.Errorf("expected 1 pending, got %d", d.Pending())
	}

	d.Flush()

	select {
	case event := <-d.Events():
		if event.Path != ".env" {
			t.Errorf("expected path '.env', got %q", event.Path)
		}
	case <-time.After(100 * time.Millisecond):
		t.Error("flush should emit immediately")
	}

	if d.Pending() != 0 {
		t.Errorf("expected 0 pending after flush, got %d", d.Pending())
	}
}

func TestDebouncer_StopDropsPending(t *testing.T) {
	d := NewDebouncer(50 * time.Millisecond)
	d.Add("config.yaml", OpWrite)
	d.Stop()
	d.Stop()

	d.Add("config.yaml", OpWrite)
	if d.Pending() != 0 {
		t.Errorf("expected nothing pending after stop, got %d", d.Pending())
	}

	select {
	case event := <-d.Events():
		t.Errorf("unexpected event after stop: %+v", event)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestOp_String(t *testing.T) {
	tests := []struct {
		op       Op
		expected string
	}{
		{OpWrite, "WRITE"},
		{OpRemove, "REMOVE"},
		{Op(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		if tt.op.String() != tt.expected {
			t.Errorf("Op(%d).String() = %q, want %q", tt.op, tt.op.String(), tt.expected)
		}
	}
}
