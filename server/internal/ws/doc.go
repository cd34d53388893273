// Package ws implements the WebSocket hub for projectlens-server.
//
// Hub pushes the portfolio snapshot to every connected client on a fixed
// interval (server.broadcast_interval, default 5s) and right after the
// receiver accepts a batch (Notify). A client receives the current snapshot
// as soon as it connects.
//
// Message format:
//
//	{
//	  "event": "snapshot",
//	  "data":  { /* same schema as GET /api/v1/snapshot */ }
//	}
//
// The hub is mounted at /ws/stream. Browsers cannot set custom headers on
// the upgrade request, so the auth middleware also accepts the key in the
// api_key query parameter there.
package ws
