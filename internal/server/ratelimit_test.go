package server

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIPLimiter(t *testing.T) {
	assert.Nil(t, newIPLimiter(0, 10), "zero rate disables limiting")

	now := time.Unix(1700000000, 0)
	l := newIPLimiter(1, 2)
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("a"))
	assert.True(t, l.allow("a"))
	assert.False(t, l.allow("a"), "burst exhausted")
	assert.True(t, l.allow("b"), "buckets are per ip")

	now = now.Add(time.Second)
	assert.True(t, l.allow("a"), "refilled after one interval")
}

func TestIPLimiter_Sweep(t *testing.T) {
	start := time.Unix(1700000000, 0)
	now := start
	l := newIPLimiter(1, 1)
	l.now = func() time.Time { return now }

	for i := 0; i <= sweepThreshold; i++ {
		l.allow(fmt.Sprintf("10.0.%d.%d", i/256, i%256))
	}
	require.Len(t, l.buckets, sweepThreshold+1)
	assert.Equal(t, start, l.lastSweep, "first pass over the threshold sweeps")

	// 間隔內不再掃描
	now = start.Add(4 * time.Minute)
	l.allow("192.168.0.1")
	assert.Equal(t, start, l.lastSweep)
	assert.Len(t, l.buckets, sweepThreshold+2)

	// 過了間隔，閒置超過 idleLimiter 的桶被清掉
	now = start.Add(idleLimiter + time.Second)
	l.allow("192.168.0.2")
	assert.Equal(t, now, l.lastSweep)
	assert.Len(t, l.buckets, 2, "only buckets seen within the idle window remain")
}
