// Package domain contains the core types and interfaces of the chat
// backend: presence records, message envelopes, client-facing events,
// and the contracts the connection coordinator depends on.
package domain
