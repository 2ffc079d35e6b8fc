// Package api exposes the HTTP handlers of the relay service: liveness,
// the live-counter endpoints, and the websocket upgrade that hands a
// producing client over to the streaming gateway.
package api
