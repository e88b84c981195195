// Package ws streams the speedscope dashboard over WebSocket.
//
// A Hub pushes the same view as GET /api/v1/snapshot to every connected
// client: once on connect, on every broadcast interval (5s by default), and
// right after the receiver stores a record (Hub.Observe). Messages look like
//
//	{"event": "snapshot", "data": {...}}
//	{"event": "record", "source": "home-office", "data": {...}}
//
// Clients that fall 16 messages behind are disconnected. The upgrader
// accepts every origin; restrict origins at the reverse proxy. The server
// mounts the hub at /ws/stream.
package ws
