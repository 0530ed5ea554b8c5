// Package schedule fires jobs once a day at a fixed wall-clock time.
//
// The scheduler does not own goroutines or timers. It is driven by a polling
// loop (RunForever) that checks due jobs once per tick and runs them inline:
//   - registering daily jobs and computing their next trigger time
//   - firing due jobs, isolating their errors and panics
//   - rescheduling each job for its following occurrence
package schedule
