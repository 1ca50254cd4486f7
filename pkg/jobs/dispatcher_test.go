package jobs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryDelayDoublesPerAttempt(t *testing.T) {
	base := 5 * time.Second

	assert.Equal(t, 5*time.Second, retryDelay(base, 1))
	assert.Equal(t, 10*time.Second, retryDelay(base, 2))
	assert.Equal(t, 20*time.Second, retryDelay(base, 3))
	assert.Equal(t, base, retryDelay(base, 0), "attempt floors at 1")
}

func TestClaimIdleScalesWithRetryCount(t *testing.T) {
	p := &Processor{config: ProcessorConfig{ClaimMinIdle: time.Minute}}

	assert.Equal(t, time.Minute, p.claimIdleFor(1))
	assert.Equal(t, 2*time.Minute, p.claimIdleFor(2))
	assert.Equal(t, 4*time.Minute, p.claimIdleFor(3))
	assert.Equal(t, time.Minute, p.claimIdleFor(0), "fresh deliveries use the base idle")
}
