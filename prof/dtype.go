package prof

import "strings"

// Canonical dtype tags. Payloads may spell them several ways; CanonicalDType
// maps every known spelling onto one of these.
const (
	DTypeFP64  = "fp64"
	DTypeFP32  = "fp32"
	DTypeTF32  = "tf32"
	DTypeFP16  = "fp16"
	DTypeBF16  = "bf16"
	DTypeFP8   = "fp8"
	DTypeInt64 = "int64"
	DTypeInt32 = "int32"
	DTypeInt16 = "int16"
	DTypeInt8  = "int8"
	DTypeUInt8 = "uint8"
	DTypeBool  = "bool"
)

var dtypeAliases = map[string]string{
	"fp64": DTypeFP64, "float64": DTypeFP64, "double": DTypeFP64,
	"fp32": DTypeFP32, "float32": DTypeFP32, "float": DTypeFP32,
	"tf32": DTypeTF32,
	"fp16": DTypeFP16, "float16": DTypeFP16, "half": DTypeFP16,
	"bf16": DTypeBF16, "bfloat16": DTypeBF16,
	"fp8": DTypeFP8, "float8_e4m3fn": DTypeFP8, "float8_e5m2": DTypeFP8,
	"int64": DTypeInt64, "long": DTypeInt64,
	"int32": DTypeInt32, "int": DTypeInt32,
	"int16": DTypeInt16, "short": DTypeInt16,
	"int8": DTypeInt8,
	"uint8": DTypeUInt8, "byte": DTypeUInt8,
	"bool": DTypeBool,
}

var dtypeWidth = map[string]int64{
	DTypeFP64:  8,
	DTypeFP32:  4,
	DTypeTF32:  4,
	DTypeFP16:  2,
	DTypeBF16:  2,
	DTypeFP8:   1,
	DTypeInt64: 8,
	DTypeInt32: 4,
	DTypeInt16: 2,
	DTypeInt8:  1,
	DTypeUInt8: 1,
	DTypeBool:  1,
}

// CanonicalDType returns the canonical tag for a dtype spelling, and false when
// the spelling is not recognized. Lookup is case-insensitive and ignores a
// leading "torch." qualifier.
func CanonicalDType(s string) (string, bool) {
	s = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(s)), "torch.")
	c, ok := dtypeAliases[s]
	return c, ok
}

// DTypeWidth returns the per-element size in bytes of a dtype spelling.
func DTypeWidth(s string) (int64, bool) {
	c, ok := CanonicalDType(s)
	if !ok {
		return 0, false
	}
	w, ok := dtypeWidth[c]
	return w, ok
}

// IsReducedPrecision reports whether the dtype is one the tensor cores take as
// matrix-multiply operands: half precision or bfloat16.
func IsReducedPrecision(s string) bool {
	c, _ := CanonicalDType(s)
	return c == DTypeFP16 || c == DTypeBF16
}

// SameDType compares two dtype spellings after canonicalisation.
func SameDType(a, b string) bool {
	ca, okA := CanonicalDType(a)
	cb, okB := CanonicalDType(b)
	return okA && okB && ca == cb
}
