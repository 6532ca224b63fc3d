// Package order holds the order vocabulary shared by the lifecycle state
// machine and the recurring-order generator: the order aggregate, its items,
// the status enum with its transition rules, and the persistence port.
package order
