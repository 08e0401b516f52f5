package testutil

// GuestSpec describes a hand-assembled guest module. The zero value is a
// descriptor-convention guest whose udf returns a descriptor naming an
// empty output buffer; set Output to the bytes the udf should return.
//
// The generated allocator is a bump allocator that honours the requested
// alignment and keeps three exported i32 globals: "live" (outstanding
// allocations), "mallocs" and "frees".
type GuestSpec struct {
	// Output is copied into a fresh 8-aligned guest allocation on every call
	// and returned through a Result Descriptor.
	Output []byte

	// Convention, when set, adds a udf_convention export returning it.
	Convention *int32

	// Scalar makes udf return the value directly.
	Scalar *uint32

	// RawHandle makes udf return this handle without allocating anything.
	RawHandle *uint32

	// BufferAddr and DescriptorLength override the fields written into the
	// descriptor. The output buffer is still allocated.
	BufferAddr       *int32
	DescriptorLength *int32

	// ErrorMessage makes udf return 0 and adds a udf_error export that
	// reports the message through a descriptor.
	ErrorMessage string

	// Trap makes udf execute unreachable; Loop makes it spin forever.
	Trap bool
	Loop bool

	// MallocResult makes malloc return this address instead of allocating.
	MallocResult *uint32

	// FreeTraps makes free execute unreachable.
	FreeTraps bool

	// Contract violations checked at load time.
	OmitFree             bool
	OmitMemory           bool
	MallocSignatureWrong bool

	// Pages is the initial memory size in 64KiB pages (default 2).
	Pages uint32
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

const (
	wasmTypeMalloc  = 0 // (i32, i32) -> i32, shared by udf
	wasmTypeFree    = 1 // (i32, i32, i32) -> ()
	wasmTypeNullary = 2 // () -> i32
	wasmTypeUnary   = 3 // (i32) -> i32

	globalNext    = 0
	globalLive    = 1
	globalMallocs = 2
	globalFrees   = 3

	outputOffset = 16
	minHeapBase  = 1024
)

type wasmFunc struct {
	name    string
	export  bool
	typeIdx byte
	body    []byte
}

// BuildGuest assembles a WebAssembly binary from spec.
func BuildGuest(spec GuestSpec) []byte {
	pages := spec.Pages
	if pages == 0 {
		pages = 2
	}

	errorOffset := align8(outputOffset + uint32(len(spec.Output)))
	heapBase := align8(errorOffset + uint32(len(spec.ErrorMessage)))
	if heapBase < minHeapBase {
		heapBase = minHeapBase
	}

	// malloc must stay function 0: udf and udf_error call it by index.
	funcs := []wasmFunc{
		{name: "malloc", export: true, typeIdx: wasmTypeMalloc, body: mallocBody(spec)},
		{name: "free", export: !spec.OmitFree, typeIdx: wasmTypeFree, body: freeBody(spec)},
		{name: "udf", export: true, typeIdx: wasmTypeMalloc, body: udfBody(spec)},
	}
	if spec.MallocSignatureWrong {
		funcs[0].typeIdx = wasmTypeUnary
		funcs[0].body = []byte{0x00, 0x20, 0x00, 0x0b} // local.get 0
	}
	if spec.Convention != nil {
		funcs = append(funcs, wasmFunc{
			name: "udf_convention", export: true, typeIdx: wasmTypeNullary,
			body: append(append([]byte{0x00, 0x41}, sleb128(*spec.Convention)...), 0x0b),
		})
	}
	if spec.ErrorMessage != "" {
		n := int32(len(spec.ErrorMessage)) //nolint:gosec // test data
		funcs = append(funcs, wasmFunc{
			name: "udf_error", export: true, typeIdx: wasmTypeNullary,
			body: descriptorBody(errorOffset, n, nil, nil),
		})
	}

	module := []byte{
		0x00, 0x61, 0x73, 0x6d, // magic
		0x01, 0x00, 0x00, 0x00, // version
	}
	appendSection := func(id byte, payload []byte) {
		module = append(module, id)
		module = append(module, uleb128(uint32(len(payload)))...)
		module = append(module, payload...)
	}

	appendSection(0x01, []byte{
		0x04,
		0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f, // (i32, i32) -> i32
		0x60, 0x03, 0x7f, 0x7f, 0x7f, 0x00, // (i32, i32, i32) -> ()
		0x60, 0x00, 0x01, 0x7f, // () -> i32
		0x60, 0x01, 0x7f, 0x01, 0x7f, // (i32) -> i32
	})

	funcPayload := uleb128(uint32(len(funcs)))
	for _, fn := range funcs {
		funcPayload = append(funcPayload, fn.typeIdx)
	}
	appendSection(0x03, funcPayload)

	memPayload := []byte{0x01, 0x00}
	appendSection(0x05, append(memPayload, uleb128(pages)...))

	globalPayload := []byte{0x04}
	for _, init := range []int32{int32(heapBase), 0, 0, 0} { //nolint:gosec // heap base is small
		globalPayload = append(globalPayload, 0x7f, 0x01, 0x41)
		globalPayload = append(globalPayload, sleb128(init)...)
		globalPayload = append(globalPayload, 0x0b)
	}
	appendSection(0x06, globalPayload)

	var exports [][]byte
	if !spec.OmitMemory {
		exports = append(exports, exportEntry("memory", 0x02, 0))
	}
	for i, fn := range funcs {
		if fn.export {
			exports = append(exports, exportEntry(fn.name, 0x00, uint32(i))) //nolint:gosec // few functions
		}
	}
	exports = append(exports,
		exportEntry("live", 0x03, globalLive),
		exportEntry("mallocs", 0x03, globalMallocs),
		exportEntry("frees", 0x03, globalFrees),
	)
	exportPayload := uleb128(uint32(len(exports)))
	for _, e := range exports {
		exportPayload = append(exportPayload, e...)
	}
	appendSection(0x07, exportPayload)

	codePayload := uleb128(uint32(len(funcs)))
	for _, fn := range funcs {
		codePayload = append(codePayload, uleb128(uint32(len(fn.body)))...)
		codePayload = append(codePayload, fn.body...)
	}
	appendSection(0x0a, codePayload)

	var segments [][]byte
	if len(spec.Output) > 0 {
		segments = append(segments, dataSegment(outputOffset, spec.Output))
	}
	if spec.ErrorMessage != "" {
		segments = append(segments, dataSegment(errorOffset, []byte(spec.ErrorMessage)))
	}
	if len(segments) > 0 {
		dataPayload := uleb128(uint32(len(segments)))
		for _, s := range segments {
			dataPayload = append(dataPayload, s...)
		}
		appendSection(0x0b, dataPayload)
	}

	return module
}

// mallocBody bumps the heap pointer: ptr = (next + align - 1) & -align.
// Locals: 0 size, 1 align, 2 ptr.
func mallocBody(spec GuestSpec) []byte {
	if spec.MallocResult != nil {
		body := []byte{0x00}
		body = append(body, bump(globalLive, 0x6a)...)
		body = append(body, bump(globalMallocs, 0x6a)...)
		body = append(body, 0x41)
		body = append(body, sleb128(int32(*spec.MallocResult))...) //nolint:gosec // two's complement
		return append(body, 0x0b)
	}

	body := []byte{
		0x01, 0x01, 0x7f, // one i32 local
		0x23, globalNext,
		0x20, 0x01,
		0x6a,
		0x41, 0x01,
		0x6b,
		0x41, 0x00,
		0x20, 0x01,
		0x6b,
		0x71,
		0x22, 0x02,
		0x20, 0x00,
		0x6a,
		0x24, globalNext,
	}
	body = append(body, bump(globalLive, 0x6a)...)
	body = append(body, bump(globalMallocs, 0x6a)...)
	return append(body, 0x20, 0x02, 0x0b)
}

func freeBody(spec GuestSpec) []byte {
	if spec.FreeTraps {
		return []byte{0x00, 0x00, 0x0b}
	}
	body := []byte{0x00}
	body = append(body, bump(globalLive, 0x6b)...)
	body = append(body, bump(globalFrees, 0x6a)...)
	return append(body, 0x0b)
}

func udfBody(spec GuestSpec) []byte {
	switch {
	case spec.Trap:
		return []byte{0x00, 0x00, 0x0b}
	case spec.Loop:
		return []byte{0x00, 0x03, 0x40, 0x0c, 0x00, 0x0b, 0x00, 0x0b}
	case spec.RawHandle != nil:
		return constBody(*spec.RawHandle)
	case spec.Scalar != nil:
		return constBody(*spec.Scalar)
	case spec.ErrorMessage != "":
		return constBody(0)
	}
	n := int32(len(spec.Output)) //nolint:gosec // test data
	return descriptorBody(outputOffset, n, spec.BufferAddr, spec.DescriptorLength)
}

// descriptorBody allocates a buffer of n bytes (align 8), copies n bytes
// from src into it, allocates a descriptor (size 8, align 4), fills it and
// returns its address. Locals: 2 buffer, 3 descriptor (after any params).
func descriptorBody(src uint32, n int32, addr, length *int32) []byte {
	body := []byte{0x01, 0x04, 0x7f} // four i32 locals covers both signatures

	body = append(body, 0x41)
	body = append(body, sleb128(n)...)
	body = append(body, 0x41, 0x08, 0x10, 0x00, 0x21, 0x02)

	body = append(body, 0x20, 0x02, 0x41)
	body = append(body, sleb128(int32(src))...) //nolint:gosec // small offset
	body = append(body, 0x41)
	body = append(body, sleb128(n)...)
	body = append(body, 0xfc, 0x0a, 0x00, 0x00)

	body = append(body, 0x41, 0x08, 0x41, 0x04, 0x10, 0x00, 0x22, 0x03)
	if addr != nil {
		body = append(body, 0x41)
		body = append(body, sleb128(*addr)...)
	} else {
		body = append(body, 0x20, 0x02)
	}
	body = append(body, 0x36, 0x02, 0x00)

	reported := n
	if length != nil {
		reported = *length
	}
	body = append(body, 0x20, 0x03, 0x41)
	body = append(body, sleb128(reported)...)
	body = append(body, 0x36, 0x02, 0x04)

	return append(body, 0x20, 0x03, 0x0b)
}

func constBody(v uint32) []byte {
	body := []byte{0x00, 0x41}
	body = append(body, sleb128(int32(v))...) //nolint:gosec // two's complement
	return append(body, 0x0b)
}

// bump emits global.get g; i32.const 1; op; global.set g.
func bump(global byte, op byte) []byte {
	return []byte{0x23, global, 0x41, 0x01, op, 0x24, global}
}

func exportEntry(name string, kind byte, index uint32) []byte {
	e := uleb128(uint32(len(name)))
	e = append(e, name...)
	e = append(e, kind)
	return append(e, uleb128(index)...)
}

func dataSegment(offset uint32, data []byte) []byte {
	s := []byte{0x00, 0x41}
	s = append(s, sleb128(int32(offset))...) //nolint:gosec // small offset
	s = append(s, 0x0b)
	s = append(s, uleb128(uint32(len(data)))...)
	return append(s, data...)
}

func align8(v uint32) uint32 {
	return (v + 7) &^ 7
}

func uleb128(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
	}
}

func sleb128(v int32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}
