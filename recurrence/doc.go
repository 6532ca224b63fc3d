// Package recurrence expands a template order and a weekly recurrence rule
// into a bounded batch of concrete orders sharing one recurring group id.
package recurrence
