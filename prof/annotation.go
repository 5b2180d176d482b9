package prof

import (
	"fmt"
	"strconv"
	"strings"
)

// Direction tells whether an annotated operation ran in the forward or the
// backward pass.
type Direction int

const (
	DirUnspecified Direction = iota
	DirForward
	DirBackward
)

func (d Direction) String() string {
	switch d {
	case DirForward:
		return "fwd"
	case DirBackward:
		return "bwd"
	default:
		return "unspecified"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (d Direction) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// ParseDirection accepts the payload tokens "fwd" and "bwd".
func ParseDirection(s string) (Direction, bool) {
	switch s {
	case "fwd":
		return DirForward, true
	case "bwd":
		return DirBackward, true
	default:
		return DirUnspecified, false
	}
}

// Annotation is the decoded payload of one marker. It is either an
// *OpAnnotation or an *OpaqueMarker.
type Annotation interface {
	// String returns the payload form of the annotation.
	String() string
	isAnnotation()
}

// ArgDesc describes one operand of an annotated operation.
type ArgDesc struct {
	// Shape lists the dimensions; an empty shape is a scalar.
	Shape []int64
	DType string
	// Value holds an embedded scalar value such as a stride, nil when absent.
	Value *string
}

// IsScalar reports whether the argument has no dimensions.
func (a ArgDesc) IsScalar() bool { return len(a.Shape) == 0 }

// Elements returns the product of the shape; a scalar has one element.
// ok is false when the product overflows int64.
func (a ArgDesc) Elements() (n int64, ok bool) {
	n = 1
	for _, d := range a.Shape {
		if n, ok = MulInt64(n, d); !ok {
			return 0, false
		}
	}
	return n, true
}

// OpAnnotation is a marker payload that matched the annotation grammar.
type OpAnnotation struct {
	Op        string
	Args      []ArgDesc
	Direction Direction
	Seq       *int64
	Layer     string
}

func (*OpAnnotation) isAnnotation() {}

// HasSeq reports whether the annotation carries a sequence id.
func (a *OpAnnotation) HasSeq() bool { return a.Seq != nil }

// String serializes the annotation in canonical payload form. Parsing the
// result yields an equivalent annotation.
func (a *OpAnnotation) String() string {
	var b strings.Builder
	b.WriteString(a.Op)
	b.WriteByte('(')
	for i, arg := range a.Args {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteByte('[')
		for j, d := range arg.Shape {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(strconv.FormatInt(d, 10))
		}
		b.WriteString("]:")
		b.WriteString(arg.DType)
		if arg.Value != nil {
			b.WriteByte('=')
			b.WriteString(*arg.Value)
		}
	}
	b.WriteByte(')')
	if a.Seq != nil {
		b.WriteString("|seq:")
		b.WriteString(strconv.FormatInt(*a.Seq, 10))
	}
	if a.Direction != DirUnspecified {
		b.WriteString("|dir:")
		b.WriteString(a.Direction.String())
	}
	if a.Layer != "" {
		b.WriteString("|layer:")
		b.WriteString(a.Layer)
	}
	return b.String()
}

// OpaqueMarker keeps a payload that did not match the grammar, verbatim.
type OpaqueMarker struct {
	Raw string
}

func (*OpaqueMarker) isAnnotation() {}

func (m *OpaqueMarker) String() string { return m.Raw }

// ParseAnnotation decodes a marker payload. Payloads outside the grammar come
// back as *OpaqueMarker; ParseAnnotation never fails.
func ParseAnnotation(payload string) Annotation {
	a, err := ParseOpAnnotation(payload)
	if err != nil {
		return &OpaqueMarker{Raw: payload}
	}
	return a
}

// ParseOpAnnotation decodes a payload of the form
//
//	<op>(<shape>:<dtype>[=<value>];...)[|seq:<int>][|dir:<fwd|bwd>][|layer:<text>]
//
// where <shape> is a bracketed, comma separated list of non-negative integers.
// The trailing tags may come in any order, each at most once.
func ParseOpAnnotation(payload string) (*OpAnnotation, error) {
	fail := func(format string, args ...any) (*OpAnnotation, error) {
		return nil, &UnparseableAnnotation{Payload: payload, Reason: fmt.Sprintf(format, args...)}
	}

	open := strings.IndexByte(payload, '(')
	if open < 0 {
		return fail("missing '('")
	}
	op := payload[:open]
	if !isOpName(op) {
		return fail("invalid operation name %q", op)
	}
	closeIdx := matchingParen(payload, open)
	if closeIdx < 0 {
		return fail("missing ')'")
	}

	a := &OpAnnotation{Op: op}
	if inner := payload[open+1 : closeIdx]; strings.TrimSpace(inner) != "" {
		for _, tok := range strings.Split(inner, ";") {
			arg, err := parseArg(tok)
			if err != nil {
				return fail("argument %q: %v", tok, err)
			}
			a.Args = append(a.Args, arg)
		}
	}

	rest := payload[closeIdx+1:]
	if rest == "" {
		return a, nil
	}
	if rest[0] != '|' {
		return fail("unexpected text %q after argument list", rest)
	}
	seen := make(map[string]bool, 3)
	for _, tag := range strings.Split(rest[1:], "|") {
		key, val, ok := strings.Cut(tag, ":")
		if !ok {
			return fail("tag %q has no ':'", tag)
		}
		if seen[key] {
			return fail("duplicate tag %q", key)
		}
		seen[key] = true
		switch key {
		case "seq":
			s, err := strconv.ParseInt(val, 10, 64)
			if err != nil || s < 0 {
				return fail("invalid sequence id %q", val)
			}
			a.Seq = &s
		case "dir":
			d, ok := ParseDirection(val)
			if !ok {
				return fail("invalid direction %q", val)
			}
			a.Direction = d
		case "layer":
			if val == "" {
				return fail("empty layer tag")
			}
			a.Layer = val
		default:
			return fail("unknown tag %q", key)
		}
	}
	return a, nil
}

func parseArg(tok string) (ArgDesc, error) {
	tok = strings.TrimSpace(tok)
	if !strings.HasPrefix(tok, "[") {
		return ArgDesc{}, fmt.Errorf("shape must start with '['")
	}
	end := strings.IndexByte(tok, ']')
	if end < 0 {
		return ArgDesc{}, fmt.Errorf("unterminated shape")
	}
	var arg ArgDesc
	if dims := strings.TrimSpace(tok[1:end]); dims != "" {
		for _, d := range strings.Split(dims, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(d), 10, 64)
			if err != nil || n < 0 {
				return ArgDesc{}, fmt.Errorf("invalid dimension %q", d)
			}
			arg.Shape = append(arg.Shape, n)
		}
	}
	rest := tok[end+1:]
	if !strings.HasPrefix(rest, ":") {
		return ArgDesc{}, fmt.Errorf("missing ':<dtype>'")
	}
	dtype, value, hasValue := strings.Cut(rest[1:], "=")
	dtype = strings.TrimSpace(dtype)
	if !isDTypeTag(dtype) {
		return ArgDesc{}, fmt.Errorf("invalid dtype %q", dtype)
	}
	arg.DType = dtype
	if hasValue {
		v := strings.TrimSpace(value)
		arg.Value = &v
	}
	return arg, nil
}

// matchingParen returns the index of the ')' closing the '(' at open, so
// scalar values such as "=(2, 2)" may nest parentheses. It returns -1 when
// the list is unterminated.
func matchingParen(s string, open int) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

func isOpName(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
		case i > 0 && ((r >= '0' && r <= '9') || r == '.' || r == ':'):
		default:
			return false
		}
	}
	return true
}

func isDTypeTag(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if !(r == '_' || r == '.' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}
