package fibersched

import (
	"sync"
	"sync/atomic"
	"testing"
)

func TestCell_FillFirstWins(t *testing.T) {
	c := NewCell[int]()
	const n = 32
	var wins atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		i := i
		go func() {
			defer wg.Done()
			if c.Fill(i) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	if got := wins.Load(); got != 1 {
		t.Fatalf(`expected exactly one successful fill, got %d`, got)
	}
	v, ok := c.TryGet()
	if !ok {
		t.Fatal(`expected filled cell`)
	}
	if v < 0 || v >= n {
		t.Fatalf(`unexpected value %d`, v)
	}
}

func TestCell_TryGet(t *testing.T) {
	c := NewCell[string]()
	if v, ok := c.TryGet(); ok || v != `` {
		t.Fatalf(`expected empty cell, got %q, %v`, v, ok)
	}
	if !c.Fill(`done`) {
		t.Fatal(`first fill must succeed`)
	}
	if v, ok := c.TryGet(); !ok || v != `done` {
		t.Fatalf(`expected filled cell, got %q, %v`, v, ok)
	}
	if c.Fill(`again`) {
		t.Fatal(`second fill must be a no-op`)
	}
	if v, _ := c.TryGet(); v != `done` {
		t.Fatalf(`value overwritten: %q`, v)
	}
}
