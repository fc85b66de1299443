// Package actor provides the message-passing contract used by the
// distributed column memory.
//
// An actor owns its state exclusively and processes one message at a time
// from a FIFO mailbox, so all operations addressed to it are strictly
// ordered. Callers interact through a Ref and the request/response Ask call,
// which is bounded by the caller's context and the system ask timeout.
//
// There is no ordering across actors and no retry: a timeout surfaces as
// ErrTimeout and retry policy belongs to the caller. An abandoned Ask does not
// cancel a message already delivered to the mailbox.
package actor
