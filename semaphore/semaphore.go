/*
   A join counter that doesn't trip up the race detector like WaitGroup does
   when Add and Wait race across goroutines.
*/
package semaphore

import (
	"sync"
)

// Semaphore counts outstanding tasks. Unlike sync.WaitGroup it may be
// re-armed: Add after the count hits zero is fine, and Idle can be polled
// at any time.
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

func (sm *Semaphore) Add(i int) {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	sm.count += i
	if sm.count < 0 {
		panic("semaphore: count went negative")
	}
	if sm.count == 0 {
		sm.cond.Broadcast()
	}
}

func (sm *Semaphore) Done() {
	sm.Add(-1)
}

// Idle reports whether no tasks are outstanding.
func (sm *Semaphore) Idle() bool {
	sm.lock.Lock()
	defer sm.lock.Unlock()
	return sm.count == 0
}

// Wait blocks until the count reaches zero.
func (sm *Semaphore) Wait() {
	sm.lock.Lock()
	defer sm.lock.Unlock()

	for sm.count != 0 {
		sm.cond.Wait()
	}
}
