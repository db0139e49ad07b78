// Package client consumes the conversation stream of a troupestream server.
//
// Stream posts a prompt and delivers every relayed message on a channel.
// ParseDialogue splits a rendered message line into speaker, target, kind and
// text, tolerating rich text markup and quote markers.
package client
