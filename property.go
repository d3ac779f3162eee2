package devinfo

import (
	"bytes"
)

// ValueKind identifies which field of a PropertyValue is populated.
type ValueKind uint8

const (
	ValueBoolean      ValueKind = iota // presence only, no payload
	ValueInts                          // Ints
	ValueInt64s                        // Int64s
	ValueStrings                       // Strings
	ValueBytes                         // Bytes
	ValueUnknown                       // no typed interpretation
	ValueUndefined                     // undefined for iteration
	ValueDecodeFailed                  // provider reported Code
)

func (k ValueKind) String() string {
	switch k {
	case ValueBoolean:
		return "boolean"
	case ValueInts:
		return "ints"
	case ValueInt64s:
		return "int64s"
	case ValueStrings:
		return "strings"
	case ValueBytes:
		return "bytes"
	case ValueUnknown:
		return "unknown"
	case ValueUndefined:
		return "undefined"
	case ValueDecodeFailed:
		return "decode-failed"
	default:
		return "invalid"
	}
}

// PropertyValue is a decoded property payload. Exactly one payload field
// is meaningful, selected by Kind. A zero-length sequence is a legitimate
// value and is distinct from ValueDecodeFailed.
type PropertyValue struct {
	Kind    ValueKind
	Ints    []int32
	Int64s  []int64
	Strings []string
	Bytes   []byte // aliases the snapshot; read-only and valid until Close
	Code    int32  // provider error code for ValueDecodeFailed
}

// Decode interprets a property's payload according to its type tag.
//
// A negative count from the provider is reported as ValueDecodeFailed with
// Code set. Unknown and undefined tags decode to ValueUnknown and
// ValueUndefined; these are valid classifications, not failures.
func Decode(p Property) PropertyValue {
	img := p.img()
	if img == nil {
		return PropertyValue{Kind: ValueDecodeFailed, Code: -1}
	}
	off := img.propOff(p.ref)
	typ := PropType(int32(img.u32(off + propType)))
	count := int32(img.u32(off + propCount))
	if count < 0 {
		return PropertyValue{Kind: ValueDecodeFailed, Code: count}
	}
	start := img.u32(off + propData)
	payload := img.data[start : start+img.u32(off+propBytes)]

	switch typ {
	case PropBoolean:
		return PropertyValue{Kind: ValueBoolean}
	case PropInt:
		vals := make([]int32, count)
		for i := range vals {
			vals[i] = int32(le.Uint32(payload[i*4:]))
		}
		return PropertyValue{Kind: ValueInts, Ints: vals}
	case PropInt64:
		vals := make([]int64, count)
		for i := range vals {
			vals[i] = int64(le.Uint64(payload[i*8:]))
		}
		return PropertyValue{Kind: ValueInt64s, Int64s: vals}
	case PropString:
		return PropertyValue{Kind: ValueStrings, Strings: splitStrings(payload, int(count))}
	case PropByte:
		return PropertyValue{Kind: ValueBytes, Bytes: payload[:count:count]}
	case PropUnknown:
		return PropertyValue{Kind: ValueUnknown, Bytes: payload[:len(payload):len(payload)]}
	case PropUndefined:
		return PropertyValue{Kind: ValueUndefined}
	default:
		return PropertyValue{Kind: ValueUnknown, Bytes: payload[:len(payload):len(payload)]}
	}
}

// splitStrings splits n NUL-terminated strings. Empty strings between
// terminators are kept, so boundaries are exact.
func splitStrings(payload []byte, n int) []string {
	out := make([]string, 0, n)
	for len(out) < n {
		i := bytes.IndexByte(payload, 0)
		if i < 0 {
			break
		}
		out = append(out, string(payload[:i]))
		payload = payload[i+1:]
	}
	return out
}

// Bool reports whether the value is a boolean (present) property.
func (v PropertyValue) Bool() bool {
	return v.Kind == ValueBoolean
}

// Failed reports whether the provider could not decode the value.
func (v PropertyValue) Failed() bool {
	return v.Kind == ValueDecodeFailed
}

// Len returns the number of elements in the payload.
func (v PropertyValue) Len() int {
	switch v.Kind {
	case ValueInts:
		return len(v.Ints)
	case ValueInt64s:
		return len(v.Int64s)
	case ValueStrings:
		return len(v.Strings)
	case ValueBytes, ValueUnknown:
		return len(v.Bytes)
	default:
		return 0
	}
}
