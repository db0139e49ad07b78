// Package channel implements the event transport between a simulation run and
// the HTTP response that relays it.
//
// A Channel is a bounded, ordered, single-producer / single-consumer FIFO of
// typed events:
//
//   - Data  carries one rendered conversation message
//   - Error reports that the run failed (optional, at most once, right before End)
//   - End   is the terminal sentinel; exactly one per run, always last
//
// End is signalled by Close rather than queued, so it can always be delivered
// even when the buffer is full and nobody is reading. Channels are created per
// request and never reused.
package channel
