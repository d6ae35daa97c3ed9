/*
Package semaphore provides an in-flight counter that can be read and waited
on, which a plain WaitGroup does not allow without tripping the race
detector.
*/
package semaphore

import (
	"sync"
)

// Semaphore counts in-flight work items. Add and Done adjust the count,
// Wait blocks until it drains to zero, and Count reads it at any time. The
// worker manager uses it to report busy workers and to drain gracefully.
type Semaphore struct {
	cond  *sync.Cond
	lock  sync.Mutex
	count int
}

func New() *Semaphore {
	s := &Semaphore{}
	s.cond = sync.NewCond(&s.lock)
	return s
}

// Add adjusts the in-flight count by i, waking waiters when it reaches zero.
func (sm *Semaphore) Add(i int) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.count += i
	if sm.count <= 0 {
		sm.count = 0
		sm.cond.Broadcast()
	}
}

// Done marks one item finished.
func (sm *Semaphore) Done() {
	sm.Add(-1)
}

// Count returns the current in-flight count.
func (sm *Semaphore) Count() int {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.count
}

// Wait blocks until the in-flight count drains to zero. Unlike a WaitGroup,
// new work may keep arriving while Wait blocks; it returns at the first
// moment the count touches zero.
func (sm *Semaphore) Wait() {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	for sm.count > 0 {
		sm.cond.Wait()
	}
}
