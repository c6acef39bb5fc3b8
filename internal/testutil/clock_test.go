package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func TestManualClock_Frozen(t *testing.T) {
	clock := NewManualClock(epoch)

	assert.Equal(t, epoch, clock.Now())
	assert.Equal(t, epoch, clock.Now())
}

func TestManualClock_Advance(t *testing.T) {
	clock := NewManualClock(epoch)

	clock.Advance(90 * time.Second)
	assert.Equal(t, epoch.Add(90*time.Second), clock.Now())

	// Never runs backwards
	clock.Advance(-time.Hour)
	assert.Equal(t, epoch.Add(90*time.Second), clock.Now())
}

func TestManualClock_Set(t *testing.T) {
	clock := NewManualClock(epoch)
	later := epoch.AddDate(0, 1, 0)

	clock.Set(later)
	assert.Equal(t, later, clock.Now())
}

func TestManualClock_ThreadSafe(t *testing.T) {
	clock := NewManualClock(epoch)
	const numGoroutines = 50

	var wg sync.WaitGroup
	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
			_ = clock.Now()
		}()
	}
	wg.Wait()

	assert.Equal(t, epoch.Add(numGoroutines*time.Second), clock.Now())
}
