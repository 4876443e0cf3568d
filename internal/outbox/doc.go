// Package outbox is the reference delegate: a SQLite table of pending
// notifications drained in bounded batches, one batch per activation.
//
// Rows are marked sent only after the relay accepted the frame. A failed
// push stops the batch and asks the relay to restart; the failed row keeps
// its place at the head of the queue with its attempt counter bumped.
package outbox
