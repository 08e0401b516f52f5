package entities

import (
	"encoding/binary"
	"fmt"
)

// ResultDescriptor is the fixed-layout record a descriptor-convention UDF
// returns the address of. It names a second guest allocation holding the
// encoded output batch.
//
// Layout (little-endian, 8 bytes):
//
//	offset 0: int32 address of the output buffer
//	offset 4: int32 length of the output buffer in bytes
type ResultDescriptor struct {
	Addr   int32
	Length int32
}

// DescriptorError reports a descriptor that could not be decoded or that
// names memory the host must not touch.
type DescriptorError struct {
	Reason string
}

func (e *DescriptorError) Error() string {
	return "result descriptor: " + e.Reason
}

// DecodeDescriptor interprets exactly DescriptorSize bytes copied out of
// guest memory. Short or oversized input is rejected rather than padded.
func DecodeDescriptor(b []byte) (ResultDescriptor, error) {
	if len(b) != int(DescriptorSize) {
		return ResultDescriptor{}, &DescriptorError{
			Reason: fmt.Sprintf("expected %d bytes, got %d", DescriptorSize, len(b)),
		}
	}
	//nolint:gosec // G115: fields are two's-complement int32 on the wire
	return ResultDescriptor{
		Addr:   int32(binary.LittleEndian.Uint32(b[0:4])),
		Length: int32(binary.LittleEndian.Uint32(b[4:8])),
	}, nil
}

// Encode returns the 8-byte wire form of d.
func (d ResultDescriptor) Encode() []byte {
	b := make([]byte, DescriptorSize)
	binary.LittleEndian.PutUint32(b[0:4], uint32(d.Addr))   //nolint:gosec // G115: wire format is two's complement
	binary.LittleEndian.PutUint32(b[4:8], uint32(d.Length)) //nolint:gosec // G115: wire format is two's complement
	return b
}

// Buffer returns the allocation record of the buffer d names, after checking
// that it is a non-empty, aligned range inside a memory of memSize bytes.
func (d ResultDescriptor) Buffer(memSize uint32) (Allocation, error) {
	if d.Addr <= 0 {
		return Allocation{}, &DescriptorError{Reason: fmt.Sprintf("invalid buffer address %d", d.Addr)}
	}
	if d.Length <= 0 {
		return Allocation{}, &DescriptorError{Reason: fmt.Sprintf("invalid buffer length %d", d.Length)}
	}
	a := Allocation{Addr: uint32(d.Addr), Size: uint32(d.Length), Align: BufferAlign}
	if err := a.Validate(memSize); err != nil {
		return Allocation{}, &DescriptorError{Reason: err.Error()}
	}
	return a, nil
}

// DescriptorAllocation returns the allocation record of a descriptor placed
// at addr.
func DescriptorAllocation(addr uint32) Allocation {
	return Allocation{Addr: addr, Size: DescriptorSize, Align: DescriptorAlign}
}
