package tensor

import "fmt"

// Precision is the element type of a Tensor's contiguous byte buffer.
type Precision int

const (
	Unspecified Precision = iota
	FP32
	FP16
	INT64
	INT32
	INT16
	INT8
	UINT8
)

var precisionNames = map[Precision]string{
	Unspecified: "UNSPECIFIED",
	FP32:        "FP32",
	FP16:        "FP16",
	INT64:       "INT64",
	INT32:       "INT32",
	INT16:       "INT16",
	INT8:        "INT8",
	UINT8:       "UINT8",
}

var precisionSize = map[Precision]int{
	FP32:  4,
	FP16:  2,
	INT64: 8,
	INT32: 4,
	INT16: 2,
	INT8:  1,
	UINT8: 1,
}

func (p Precision) String() string {
	if name, ok := precisionNames[p]; ok {
		return name
	}
	return fmt.Sprintf("PRECISION(%d)", int(p))
}

// ParsePrecision looks up a Precision by its String() name, for callers
// decoding a wire format that names precisions rather than encoding
// their integer value.
func ParsePrecision(name string) (Precision, bool) {
	for p, n := range precisionNames {
		if n == name {
			return p, true
		}
	}
	return Unspecified, false
}

// Known reports whether p is a recognized, non-UNSPECIFIED precision.
func (p Precision) Known() bool {
	_, ok := precisionSize[p]
	return ok
}

// SizeOf returns the byte width of one element of precision p, and false
// if p is not a recognized precision.
func (p Precision) SizeOf() (int, bool) {
	n, ok := precisionSize[p]
	return n, ok
}
