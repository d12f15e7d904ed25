// Package api serves a small read-only HTTP status surface for the bridge.
//
// Routes:
//
//	GET /api/v1/health            engine health document (503 unless healthy)
//	GET /api/v1/bridges           every bridge with state and counters, plus failures
//	GET /api/v1/bridges/{index}   one bridge by configuration index
//	GET /api/v1/connection        MQTT session state
//	GET /api/v1/events            recent journal entries (?kind=bridge|connection&limit=N)
//	GET /api/v1/ws                WebSocket stream of connection and health events
//
// The server is disabled by default and binds to 127.0.0.1. It has no
// authentication; put it behind a reverse proxy before exposing it.
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use.
package api
