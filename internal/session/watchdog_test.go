package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatchdogSweepPurgesExpired(t *testing.T) {
	clock := &fakeClock{t: time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)}
	inst := NewInstance(Options{ID: "loja", Dir: t.TempDir(), Now: clock.Now})

	convs := inst.Conversations()
	convs.Put("a@s.whatsapp.net", "sess-a")
	clock.Advance(90 * time.Second)
	convs.Put("b@s.whatsapp.net", "sess-b")
	clock.Advance(time.Minute)

	w := NewWatchdog(func() []*Instance { return []*Instance{inst} }, time.Minute, nil)

	assert.Equal(t, 1, w.Sweep())
	assert.Equal(t, 1, convs.Len())
	_, ok := convs.Get("b@s.whatsapp.net", inst.Settings().SessionTimeout())
	assert.True(t, ok)
}

func TestWatchdogStopsWithContext(t *testing.T) {
	w := NewWatchdog(func() []*Instance { return nil }, time.Millisecond, nil)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()

	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 5*time.Millisecond)
}
