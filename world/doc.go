// Package world implements the simulation session a conversation runs in.
//
// A World owns an ordered roster of participants and the communication
// history of the current run. Run drives the participants step by step; every
// message a participant produces is displayed: appended to the history,
// logged, and then handed to every subscribed observer. Observers watch
// without being able to change or suppress that default display path.
//
// Worlds are cheap and are meant to be built per request; nothing in this
// package is a process wide singleton.
package world
