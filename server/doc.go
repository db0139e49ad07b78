// Package server exposes conversation runs as a Server-Sent Events stream.
//
// POST /stream_conversation validates the request, builds a fresh session and
// channel, starts the run in the background and relays every message as
//
//	data: {"message": "<rendered message>"}
//
// until the run ends or the client goes away. Invalid requests are rejected
// with 400 before anything is started; requests beyond the concurrency cap
// get 503.
package server
