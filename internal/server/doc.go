// Package server implements the HTTP and WebSocket surface of the chat relay.
//
// The Hub is the room registry, each Client carries one connection's session
// state and pumps, and the Relay drives the per-connection auth, join and chat
// state machine. HTTP handlers, configuration, origin checks and the rate
// limiter live in their own files alongside them.
package server
