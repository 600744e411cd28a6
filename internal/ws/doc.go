// Package ws provides the WebSocket connection registry and the per-connection
// message loop used to push task progress to users.
//
// The package implements:
//   - Registry: tracks live connections by user and by connection type
//   - Connection: one socket with an ordered outbound queue
//   - Endpoint: handshake, token check and the read/write pumps of a connection
//   - Endpoint.ServeTaskStatus: polling-style socket streaming the state of a single task
//
// Key behaviour:
//   - Delivery failures disconnect the failing connection and are never returned to callers
//   - Messages to one connection leave in the order they were queued
//   - Malformed inbound frames are logged and skipped; the loop keeps running
//   - A connection leaves the registry exactly once, whatever ended it
package ws
