// Package runner executes one simulated conversation per request on its own
// goroutine and relays every displayed message into a channel.Channel.
//
// The Runner keeps a table of active runs so that individual runs can be
// cancelled and the whole process can wait for outstanding runs on shutdown.
// Whatever happens inside a run (success, error, panic, cancellation) the
// observer is removed from the session again and the channel receives
// exactly one End.
package runner
