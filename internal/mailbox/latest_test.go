package mailbox

import (
	"bytes"
	"sync"
	"testing"
	"time"
)

func TestLatestEmpty(t *testing.T) {
	var l Latest[[]byte]

	if l.HasValue() {
		t.Error("new mailbox reports a value")
	}

	v, ok := l.Latest()
	if ok || v != nil {
		t.Errorf("Latest() = %v, %v on empty mailbox", v, ok)
	}
}

func TestLatestReadAfterWrite(t *testing.T) {
	var l Latest[int]

	for i := 0; i < 10; i++ {
		l.Publish(i)

		v, ok := l.Latest()
		if !ok || v != i {
			t.Fatalf("after Publish(%d): Latest() = %d, %v", i, v, ok)
		}
	}

	// reading does not consume
	if v, _ := l.Latest(); v != 9 {
		t.Errorf("second read = %d, want 9", v)
	}
}

func TestLatestNoTornReads(t *testing.T) {
	const size = 64 * 1024

	var l Latest[[]byte]
	stop := make(chan struct{})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			// fresh buffer per publish: published values are never mutated
			l.Publish(bytes.Repeat([]byte{byte(i)}, size))
		}
	}()

	deadline := time.Now().Add(200 * time.Millisecond)
	reads := 0
	for time.Now().Before(deadline) {
		buf, ok := l.Latest()
		if !ok {
			continue
		}

		reads++
		if len(buf) != size {
			t.Fatalf("read buffer of %d bytes", len(buf))
		}

		for j := range buf {
			if buf[j] != buf[0] {
				t.Fatalf("torn read: byte %d = %d, byte 0 = %d", j, buf[j], buf[0])
			}
		}
	}

	close(stop)
	wg.Wait()

	if reads == 0 {
		t.Fatal("reader never observed a value")
	}
}

func TestLatestEventuallyLastWrite(t *testing.T) {
	var l Latest[int]

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 1000; i++ {
			l.Publish(i)
		}
	}()
	wg.Wait()

	if v, _ := l.Latest(); v != 1000 {
		t.Errorf("Latest() = %d, want 1000", v)
	}
}
