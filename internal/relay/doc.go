// Package relay supervises the push pipeline: it binds the local activation
// listener, opens the upstream gateway session, and runs the delegate once
// per activation, strictly one at a time.
//
// The loop has no terminal state. Any bind, connect or accept failure, a
// delegate returning false, or a delegate panic tears down both the
// upstream session and the listener, sleeps a random delay inside the
// configured window, and starts over. Run returns only when its context is
// cancelled.
//
// Single-flight is a property of the loop itself: the next accept is only
// issued after the previous delegate returned and its activation was closed.
package relay
