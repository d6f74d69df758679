package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDelayDoubles(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: time.Second}

	assert.Equal(t, 100*time.Millisecond, p.Delay(0))
	assert.Equal(t, 200*time.Millisecond, p.Delay(1))
	assert.Equal(t, 400*time.Millisecond, p.Delay(2))
	assert.Equal(t, 800*time.Millisecond, p.Delay(3))
	// Capped from here on.
	assert.Equal(t, time.Second, p.Delay(4))
	assert.Equal(t, time.Second, p.Delay(10))
	assert.Equal(t, time.Second, p.Delay(100))
}

func TestDelayZeroValuePolicy(t *testing.T) {
	var p Policy
	assert.Equal(t, 500*time.Millisecond, p.Delay(0))
	assert.Equal(t, 30*time.Second, p.Delay(63))
}

func TestDelayNegativeAttempt(t *testing.T) {
	p := Policy{Base: 100 * time.Millisecond, Max: time.Second}
	assert.Equal(t, 100*time.Millisecond, p.Delay(-1))
}

func TestSleepCanceled(t *testing.T) {
	p := Policy{Base: time.Minute, Max: time.Minute}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Sleep(ctx, 0)
	assert.ErrorIs(t, err, context.Canceled)
}
