package router

import (
	"sync"
	"testing"
	"time"
)

func TestBuffer_SendReceive(t *testing.T) {
	b := NewBuffer[int](10, 100)

	for i := 0; i < 5; i++ {
		if !b.Send(i) {
			t.Fatalf("Send(%d) = false", i)
		}
	}

	for i := 0; i < 5; i++ {
		v, ok := b.Receive()
		if !ok {
			t.Fatalf("Receive %d = closed", i)
		}
		if v != i {
			t.Errorf("Receive = %d, want %d", v, i)
		}
	}
}

func TestBuffer_GrowsUnderCeiling(t *testing.T) {
	b := NewBuffer[int](4, 64)

	for i := 0; i < 30; i++ {
		b.Send(i)
	}

	stats := b.Stats()
	if stats.Capacity <= 4 {
		t.Errorf("Capacity = %d, want grown past 4", stats.Capacity)
	}
	if stats.TotalDropped != 0 {
		t.Errorf("TotalDropped = %d, want 0 under ceiling", stats.TotalDropped)
	}
	if stats.ResizeCount == 0 {
		t.Error("ResizeCount = 0, want > 0")
	}

	// FIFO order preserved across growth.
	for i := 0; i < 30; i++ {
		v, ok := b.TryReceive()
		if !ok || v != i {
			t.Fatalf("TryReceive = %d, %v, want %d, true", v, ok, i)
		}
	}
}

func TestBuffer_DropsOldestAtCeiling(t *testing.T) {
	b := NewBuffer[int](4, 8)

	for i := 0; i < 20; i++ {
		b.Send(i)
	}

	stats := b.Stats()
	if stats.Capacity != 8 {
		t.Errorf("Capacity = %d, want pinned at ceiling 8", stats.Capacity)
	}
	if stats.TotalDropped != 12 {
		t.Errorf("TotalDropped = %d, want 12", stats.TotalDropped)
	}

	// The newest items survive, oldest were dropped.
	v, ok := b.TryReceive()
	if !ok || v != 12 {
		t.Errorf("first survivor = %d, %v, want 12, true", v, ok)
	}
}

func TestBuffer_ReceiveBlocksUntilSend(t *testing.T) {
	b := NewBuffer[string](4, 8)

	var wg sync.WaitGroup
	wg.Add(1)
	var got string
	go func() {
		defer wg.Done()
		got, _ = b.Receive()
	}()

	time.Sleep(20 * time.Millisecond)
	b.Send("hello")
	wg.Wait()

	if got != "hello" {
		t.Errorf("Receive = %q, want hello", got)
	}
}

func TestBuffer_CloseDrainsThenSignals(t *testing.T) {
	b := NewBuffer[int](4, 8)
	b.Send(1)
	b.Send(2)
	b.Close()

	if b.Send(3) {
		t.Error("Send after Close = true, want false")
	}

	if v, ok := b.Receive(); !ok || v != 1 {
		t.Errorf("Receive = %d, %v, want 1, true", v, ok)
	}
	if v, ok := b.Receive(); !ok || v != 2 {
		t.Errorf("Receive = %d, %v, want 2, true", v, ok)
	}
	if _, ok := b.Receive(); ok {
		t.Error("Receive on drained closed buffer = true, want false")
	}
}

func TestBuffer_DrainTo(t *testing.T) {
	b := NewBuffer[int](8, 16)
	for i := 0; i < 6; i++ {
		b.Send(i)
	}

	batch := b.DrainTo(4)
	if len(batch) != 4 {
		t.Fatalf("len = %d, want 4", len(batch))
	}
	for i, v := range batch {
		if v != i {
			t.Errorf("batch[%d] = %d, want %d", i, v, i)
		}
	}

	rest := b.DrainTo(0)
	if len(rest) != 2 {
		t.Errorf("remaining = %d, want 2", len(rest))
	}
	if b.DrainTo(0) != nil {
		t.Error("DrainTo on empty buffer != nil")
	}
}
