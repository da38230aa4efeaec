package filament

// singleFlightCall is an in-flight call that may be shared among
// several fibers.
type singleFlightCall struct {
	wg   WaitGroup // Fibers waiting on this call
	val  any       // The result value of the call
	err  error     // Any error from the call
	dups int       // Number of duplicate calls
}

// singleFlight deduplicates concurrent calls with the same key. It is
// shared by every fiber descending from the same root fiber.
type singleFlight struct {
	m map[any]*singleFlightCall // In-flight calls by key
}

func newSingleFlight() *singleFlight {
	return new(singleFlight)
}

// Do runs fn for key unless a fiber in the same tree is already running
// it, in which case f waits for and shares that result. shared reports
// whether the result went to more than one caller.
func (f *Fiber) Do(key any, fn func() (any, error)) (v any, err error, shared bool) {
	return f.single.do(f, key, fn)
}

func (g *singleFlight) do(f *Fiber, key any, fn func() (any, error)) (v any, err error, shared bool) {
	if g.m == nil {
		g.m = make(map[any]*singleFlightCall)
	}

	if c, ok := g.m[key]; ok {
		c.dups++
		if err := c.wg.Wait(f); err != nil {
			return nil, err, true
		}
		return c.val, c.err, true
	}

	c := new(singleFlightCall)
	c.wg.Add(1)
	g.m[key] = c

	g.doCall(c, key, fn)
	return c.val, c.err, c.dups > 0
}

// doCall runs fn and removes the map entry when it completes, even if fn
// panics or its fiber unwinds.
func (g *singleFlight) doCall(c *singleFlightCall, key any, fn func() (any, error)) {
	defer func() {
		c.wg.Done()
		if g.m[key] == c {
			delete(g.m, key)
		}
	}()

	c.val, c.err = fn()
}
