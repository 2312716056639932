// Package region defines the fixed-offset shared memory layout that a
// server process constructs and every client process maps read-write:
// a header, followed by the request ring, followed by the response
// table. Nothing in this package allocates Go pointers into the
// mapped bytes; every accessor computes an address on demand.
package region

// Scalar constrains the key and value types a build instantiates the
// store with. Task records and response slots cross the process
// boundary as raw bytes, so K and V must be fixed-size, trivially
// copyable integers — no strings, slices, or pointers.
type Scalar interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~int |
		~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uint
}
