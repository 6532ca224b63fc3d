// Package stream implements the per-tenant live fan-out channel: a registry
// of open streaming connections, an SSE frame broadcaster, the fiber handler
// serving EventSource clients, and the bus subscriber that feeds it.
//
// There is no buffering or replay across connections: a client that was not
// connected at broadcast time re-fetches state through the query APIs.
package stream
