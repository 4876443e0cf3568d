// Package apns talks to a push gateway speaking the legacy binary
// ("simple", command 0) notification format over a TLS client session.
//
// Encode frames one notification. Dialer opens the session; Conn writes
// frames to it. There is no feedback channel: the gateway never answers a
// simple-format frame, so a successful Send only means the bytes left.
package apns
