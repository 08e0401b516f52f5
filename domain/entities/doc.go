// Package entities provides the value types of the UDF boundary protocol.
// These are the records that cross, or describe, the host/guest boundary:
// allocation records, the result descriptor, the calling convention and
// the host-side run configuration.
package entities
