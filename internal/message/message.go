// Package message defines the priority-tagged strings that flow from the
// external RPC endpoint into a TaskProxy's Incoming method (spec.md §3).
package message

// Priority is the severity tag carried by an incoming message.
type Priority string

const (
	Debug    Priority = "DEBUG"
	Normal   Priority = "NORMAL"
	Warning  Priority = "WARNING"
	Critical Priority = "CRITICAL"
)
