package filament

// WaitGroup waits for a collection of fibers to finish. Fibers call
// Add(1) when they start and Done when they finish; other fibers call
// Wait to block until the counter drops to zero.
type WaitGroup struct {
	noCopy  noCopy   // Prevents copying of the WaitGroup
	v       int      // Counter for the number of fibers
	waiters waitList // Fibers blocked in Wait
}

// Add adds delta to the counter. When it reaches zero every waiting fiber
// is resumed. A negative counter panics.
func (wg *WaitGroup) Add(delta int) {
	wg.v += delta

	if wg.v < 0 {
		panic("filament: negative WaitGroup counter")
	}

	if wg.v > 0 {
		return
	}

	wg.waiters.notify(wg.waiters.len())
}

// Done decrements the counter by one.
func (wg *WaitGroup) Done() {
	wg.Add(-1)
}

// Wait blocks f until the counter is zero. If it already is, Wait returns
// immediately.
func (wg *WaitGroup) Wait(f *Fiber) error {
	if wg.v == 0 {
		return nil
	}
	if f == nil {
		return usageError("waitgroup wait", ErrNotInFiber)
	}
	if err := f.sched.checkCaller(f, "waitgroup wait"); err != nil {
		return err
	}

	if f.sched.block(f, &wg.waiters, 0) == wakeSignaled {
		return nil
	}
	return f.interrupt()
}
