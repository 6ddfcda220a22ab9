package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNames(t *testing.T) {
	t.Parallel()

	capMB := int64(500)
	assert.Equal(t, "datacap-sess-1", DataCapMeterName("sess-1"))
	assert.Equal(t, "speed-sess-1", SpeedMeterName("sess-1"))
	assert.Equal(t, "datacap-10-0-0-5", LegacyDataCapMeterName("10.0.0.5"))
	assert.Equal(t, "10.0.0.5/32", HostTarget("10.0.0.5"))
	assert.Equal(t, "2001:db8::5/128", HostTarget("2001:db8::5"))
	assert.Equal(t, "session-sess-1-24h-500", BindingComment("sess-1", 24, &capMB))
	assert.Equal(t, "session-sess-1-2h-unlimited", BindingComment("sess-1", 2, nil))
	assert.Equal(t, "datacap-500MB-524288000B-session-sess-1", DataCapComment("sess-1", capMB))
}

func TestBindingOwner(t *testing.T) {
	t.Parallel()

	capMB := int64(100)
	for _, id := range []string{"sess-1", "a-b-7h-9", "7"} {
		owner, ok := BindingOwner(BindingComment(id, 24, &capMB))
		assert.True(t, ok, id)
		assert.Equal(t, id, owner)
		owner, ok = BindingOwner(BindingComment(id, 1, nil))
		assert.True(t, ok, id)
		assert.Equal(t, id, owner)
	}

	for _, comment := range []string{"", "manual", "session-x", "session--1h-unlimited", "session-x-1h-"} {
		_, ok := BindingOwner(comment)
		assert.False(t, ok, comment)
	}

	assert.True(t, IsMeterName("datacap-sess-1"))
	assert.True(t, IsMeterName("speed-sess-1"))
	assert.False(t, IsMeterName("guest-queue"))
}

func TestUsageRecord(t *testing.T) {
	t.Parallel()

	r := NewUsageRecord(1024*1024, 512*1024, UsageSourceMeter)
	assert.Equal(t, uint64(1024*1024+512*1024), r.TotalBytes)
	assert.Equal(t, 1.5, r.TotalMB)
	assert.Equal(t, 0.01, BytesToMB(10*1024))
	assert.Equal(t, int64(524288000), MBToBytes(500))
}
