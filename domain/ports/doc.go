// Package ports defines interfaces for infrastructure operations.
// These ports enable dependency inversion: the host orchestrator depends on
// the Sandbox and BatchCodec abstractions, and infrastructure adapters
// (wazero, Arrow IPC) implement them.
package ports
