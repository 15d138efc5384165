// Package api implements the HTTP REST API and WebSocket server of the gateway.
//
// This package provides:
//   - REST endpoints for server profiles, settings, devices, the allow-list,
//     subscriptions, publishing, tasks, message triggers and alert rules
//   - WebSocket hub broadcasting gateway events to UI subscribers
//   - Middleware stack (request ID, logging, recovery, CORS, body limit)
//   - TLS support for production deployments
//
// # Architecture
//
// The server is a thin layer over the gateway session and its engines.
// Administrative requests call into those components, which persist the
// change and broadcast the updated list themselves. The Hub is the
// events.Broadcaster the components are built with, so it is created
// before the session and injected through Deps.Hub.
//
// # WebSocket
//
// Clients connect to /api/v1/ws, optionally with ?events=a,b to limit the
// events they receive (default "*"). The first message is a state_update
// with the full gateway state. Clients may then send subscribe,
// unsubscribe, get_state and ping messages.
//
// # Errors
//
// Every error response uses the envelope {"error":{"code","message"}}.
// Domain sentinels map to 400, 404, 409 or 503; anything else is a 500.
package api
