// Package bootstrap assembles the event core at process start: it loads
// configuration from the environment, picks the durable broker bus when the
// broker is reachable and the in-process bus otherwise, and runs the
// two-phase registration protocol. Feature packages subscribe their handlers
// during synchronous startup; Start then closes the registration window and
// begins consumption.
//
// Broker unavailability is never fatal. The process boots on the in-process
// bus with a warning and accepts the weaker delivery guarantees until the
// next restart.
package bootstrap
