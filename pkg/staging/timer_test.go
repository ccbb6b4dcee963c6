package staging

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSchedule_FiresOnce(t *testing.T) {
	var fired int64
	done := make(chan struct{})

	Schedule(10*time.Millisecond, func() {
		atomic.AddInt64(&fired, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timer never fired")
	}

	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, atomic.LoadInt64(&fired))
}

func TestCancel_PreventsFiring(t *testing.T) {
	var fired int64

	h := Schedule(30*time.Millisecond, func() {
		atomic.AddInt64(&fired, 1)
	})
	h.Cancel()

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, atomic.LoadInt64(&fired))
}

func TestCancel_AfterFireIsSafe(t *testing.T) {
	done := make(chan struct{})
	h := Schedule(time.Millisecond, func() { close(done) })

	<-done
	h.Cancel()
	h.Cancel()
}
