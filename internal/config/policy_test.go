package config

import (
	"context"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hellisbugfree/filing-cabinet/internal/fault"
)

func TestCheckCheckinSize_Boundary(t *testing.T) {
	p := DefaultPolicy()
	p.CheckinMaxSize = 1000

	assert.NoError(t, p.CheckCheckinSize("/a", 999))
	assert.NoError(t, p.CheckCheckinSize("/a", 1000), "exactly the maximum is accepted")

	err := p.CheckCheckinSize("/a", 1001)
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err))
	assert.Contains(t, err.Error(), "/a")
}

func TestCheckBatch(t *testing.T) {
	p := DefaultPolicy()

	assert.NoError(t, p.CheckBatch(10, false))

	err := p.CheckBatch(11, false)
	require.Error(t, err)
	assert.True(t, fault.IsPolicyRejected(err))
	assert.Contains(t, err.Error(), "confirmation required")

	assert.NoError(t, p.CheckBatch(11, true))
}

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()
	assert.Equal(t, int64(100*1024*1024), p.CheckinMaxSize)
	assert.Equal(t, 10, p.BatchWarning)
	assert.Equal(t, []string{"pdf", "png", "jpg", "jpeg"}, p.Extensions)
	assert.Equal(t, 30, p.DateRangeDays)
	assert.True(t, p.Recursive)
	assert.False(t, p.FollowSymlinks)
	assert.Contains(t, p.IgnorePatterns, ".git")
	assert.Equal(t, runtime.NumCPU(), p.WorkerCount())

	p.Extensions[0] = "mutated"
	assert.Equal(t, "pdf", DefaultPolicy().Extensions[0], "defaults table must not be aliased")
}

func TestStaticProvider(t *testing.T) {
	want := DefaultPolicy()
	want.Workers = 3

	got, err := Static(want).Policy(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, got.WorkerCount())
}
