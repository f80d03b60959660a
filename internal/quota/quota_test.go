package quota_test

import (
	"sync"
	"testing"

	"github.com/jroosing/hydranamed/internal/quota"
	"github.com/stretchr/testify/assert"
)

func TestTryAcquireRespectsMax(t *testing.T) {
	q := quota.New(2)

	assert.True(t, q.TryAcquire())
	assert.True(t, q.TryAcquire())
	assert.False(t, q.TryAcquire())
	assert.Equal(t, 2, q.InUse())

	q.Release()
	assert.True(t, q.TryAcquire())
}

func TestZeroMaxIsUnlimited(t *testing.T) {
	q := quota.New(0)
	for range 1000 {
		assert.True(t, q.TryAcquire())
	}
	assert.Equal(t, 1000, q.InUse())
}

func TestSetMaxKeepsHeldSlots(t *testing.T) {
	q := quota.New(10)
	for range 5 {
		q.TryAcquire()
	}

	q.SetMax(3)

	assert.Equal(t, 3, q.Max())
	assert.Equal(t, 5, q.InUse(), "held slots survive a lower maximum")
	assert.False(t, q.TryAcquire())

	for range 3 {
		q.Release()
	}
	assert.True(t, q.TryAcquire())
}

func TestNegativeMaxClamped(t *testing.T) {
	q := quota.New(-4)
	assert.Equal(t, 0, q.Max())
}

func TestReleaseWithoutAcquirePanics(t *testing.T) {
	q := quota.New(1)
	assert.Panics(t, q.Release)
}

func TestConcurrentAcquireNeverExceedsMax(t *testing.T) {
	q := quota.New(8)
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		peak    int
		current int
	)
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				if !q.TryAcquire() {
					continue
				}
				mu.Lock()
				current++
				peak = max(peak, current)
				mu.Unlock()

				mu.Lock()
				current--
				mu.Unlock()
				q.Release()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak, 8)
	assert.Equal(t, 0, q.InUse())
}
