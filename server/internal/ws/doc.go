// Package ws implements the WebSocket hub for the cyberpulse server.
//
// Hub manages a set of connected clients and broadcasts the latest detection
// result to all of them on a configurable interval (default 5s).
//
// New(source, interval, metrics) creates a Hub.
// Hub.Run(ctx) starts the broadcast ticker and blocks until ctx is cancelled,
// then closes all active connections.
// Hub.ServeHTTP upgrades an HTTP connection to WebSocket, sends the current
// result immediately on connect, then streams updates on each tick.
//
// Message format sent to clients:
//
//	{
//	  "event": "alerts",
//	  "data":  {"alerts": [...], "generated_at": "...", "event_count": N, "new": N}
//	}
//
// The upgrader accepts all origins. The endpoint is mounted at /ws/stream by
// the server.
package ws
