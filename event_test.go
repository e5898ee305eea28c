package fibersched

import "testing"

func TestEventQueue_FIFO(t *testing.T) {
	q := newEventQueue()
	const n = 600 // past the compaction threshold
	var got []int
	for i := 0; i < n; i++ {
		i := i
		if !q.send(event{fill: func() { got = append(got, i) }}) {
			t.Fatal(`send refused on open queue`)
		}
	}
	for i := 0; i < n; i++ {
		ev, status := q.get(nil)
		if status != getOK {
			t.Fatalf(`expected getOK at %d, got %v`, i, status)
		}
		ev.fill()
	}
	for i, v := range got {
		if v != i {
			t.Fatalf(`order violated at %d: got %d`, i, v)
		}
	}
	if !q.isEmpty() {
		t.Fatal(`queue should be empty after drain`)
	}
}

func TestEventQueue_SendManyPreservesOrder(t *testing.T) {
	q := newEventQueue()
	var got []int
	evs := make([]event, 10)
	for i := range evs {
		i := i
		evs[i] = event{fill: func() { got = append(got, i) }}
	}
	if !q.sendMany(evs) {
		t.Fatal(`sendMany refused on open queue`)
	}
	for range evs {
		ev, status := q.get(nil)
		if status != getOK {
			t.Fatalf(`expected getOK, got %v`, status)
		}
		ev.fill()
	}
	for i, v := range got {
		if v != i {
			t.Fatalf(`order violated at %d: got %d`, i, v)
		}
	}
}

func TestEventQueue_IdlePredicate(t *testing.T) {
	q := newEventQueue()
	if _, status := q.get(func() bool { return true }); status != getIdle {
		t.Fatalf(`expected getIdle, got %v`, status)
	}
	q.send(event{fill: func() {}})
	// A queued event takes precedence over the idle predicate.
	if _, status := q.get(func() bool { return true }); status != getOK {
		t.Fatalf(`expected getOK, got %v`, status)
	}
}

func TestEventQueue_CloseRefusesSends(t *testing.T) {
	q := newEventQueue()
	q.closeQueue()
	q.closeQueue() // idempotent
	if q.send(event{fill: func() {}}) {
		t.Fatal(`send accepted after close`)
	}
	if q.sendMany([]event{{fill: func() {}}}) {
		t.Fatal(`sendMany accepted after close`)
	}
	if _, status := q.get(nil); status != getClosed {
		t.Fatal(`expected getClosed`)
	}
}

func TestEventQueue_AbortSentinelThenClosed(t *testing.T) {
	q := newEventQueue()
	q.send(event{fill: func() {}})
	q.sendAbortAndClose()
	ev, status := q.get(nil)
	if status != getOK || ev.abort {
		t.Fatalf(`expected the earlier event first, got abort=%v status=%v`, ev.abort, status)
	}
	ev, status = q.get(nil)
	if status != getOK || !ev.abort {
		t.Fatalf(`expected the abort sentinel, got abort=%v status=%v`, ev.abort, status)
	}
	if _, status := q.get(nil); status != getClosed {
		t.Fatal(`expected getClosed after the sentinel`)
	}
}
