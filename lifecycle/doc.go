// Package lifecycle implements the order status state machine. A valid
// transition is persisted through the order store, triggers inventory
// compensation on the production edges, and ends with an order.statusChanged
// event for asynchronous consumers.
package lifecycle
