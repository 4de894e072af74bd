// Package session owns the controller<->target byte-stream transport.
//
// Ownership boundary:
// - the JDWP-Handshake exchange
// - attach / listen / ssh-tunnelled attach connection setup
// - retry/backoff and TLS policy for connection setup
// - packet-at-a-time reads and serialized packet writes
package session
