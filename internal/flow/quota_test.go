package flow

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/BTreeMap/DreamPipe/internal/models"
)

func TestQuotaGate(t *testing.T) {
	q := NewQuotaGate(2, []string{"admin"})
	s := models.NewSession(time.Now())

	assert.Equal(t, 2, q.Limit())
	assert.True(t, q.HasPermission("u", s))
	s.CountAIRequests = 1
	assert.True(t, q.HasPermission("u", s))
	s.CountAIRequests = 2
	assert.False(t, q.HasPermission("u", s))
	assert.True(t, q.HasPermission("admin", s))
	assert.True(t, q.IsPrivileged("admin"))
	assert.False(t, q.IsPrivileged("u"))
}

func TestQuotaGateLimitFloor(t *testing.T) {
	for _, limit := range []int{0, -5} {
		q := NewQuotaGate(limit, nil)
		assert.Equal(t, DefaultRequestLimit, q.Limit())
	}
}

func TestUserLocksSerializePerUser(t *testing.T) {
	locks := NewUserLocks()
	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("u")
			defer unlock()
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
	assert.Equal(t, 0, locks.Len())
}

func TestUserLocksIndependentUsers(t *testing.T) {
	locks := NewUserLocks()
	unlockA := locks.Lock("a")

	done := make(chan struct{})
	go func() {
		unlockB := locks.Lock("b")
		unlockB()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock for b blocked behind a")
	}
	assert.Equal(t, 1, locks.Len())
	unlockA()
	unlockA()
	assert.Equal(t, 0, locks.Len())
}
