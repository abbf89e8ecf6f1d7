package events_test

import (
	"testing"

	"github.com/ardanlabs/powchain/foundation/events"
)

func Test_Events(t *testing.T) {
	evts := events.New[string]()

	a := evts.Acquire("a")
	b := evts.Acquire("b")

	if again := evts.Acquire("a"); again != a {
		t.Fatalf("Should get the same channel for the same id.")
	}

	evts.Send("hello")

	for _, ch := range []<-chan string{a, b} {
		if got := <-ch; got != "hello" {
			t.Logf("got: %s", got)
			t.Logf("exp: %s", "hello")
			t.Fatalf("Should receive the message.")
		}
	}

	if err := evts.Release("a"); err != nil {
		t.Fatalf("Should be able to release: %s", err)
	}
	if _, open := <-a; open {
		t.Fatalf("Should close the released channel.")
	}
	if err := evts.Release("a"); err == nil {
		t.Fatalf("Should not release an unknown id.")
	}

	// Send never blocks on a full receiver.
	for range 1000 {
		evts.Send("flood")
	}

	evts.Shutdown()
	for range b {
	}
}
