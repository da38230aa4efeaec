// Package filament provides cooperative fibers: many logical threads
// of control multiplexed onto the goroutine that runs their Scheduler,
// switching only at explicit suspension points. Code between two
// suspension points runs atomically with respect to other fibers of the
// same scheduler.
//
// Key components:
//
//   - Scheduler: owns the live fibers, a FIFO ready queue, the deadline
//     registry and the readiness poller. Run drives the fibers and is
//     the only place the goroutine blocks.
//
//   - Fiber: a coroutine-backed unit of work. Fibers spawn children,
//     yield, sleep, wait for each other and can be canceled; a
//     canceled fiber unwinds its stack so deferred releases run.
//
//   - Timer: AfterFunc, Sleep, and the timeouts accepted by every
//     blocking call.
//
//   - Readiness waits: WaitReadable and WaitWritable suspend a fiber
//     until a non-blocking fd is ready, backed by epoll on Linux and
//     poll(2) on other unix systems.
//
//   - Synchronization primitives: Lock, RLock, Condition, Semaphore,
//     WaitGroup, ErrGroup, Message and Fiber.Do, all waking waiters in
//     FIFO order.
//
//   - Queues: FIFO, LIFO and priority queues with capacity backpressure
//     and TaskDone/Join completion tracking.
//
//   - Offload: runs blocking work on a bounded set of goroutines and
//     delivers the result back to the waiting fiber.
//
// Schedulers are not safe for concurrent use. Run one scheduler per
// goroutine; Message.SendAsync, paired with Scheduler.Hold, is the way in
// from other goroutines.
package filament
