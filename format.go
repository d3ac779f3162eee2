package devinfo

import (
	"strconv"
	"strings"
)

// HexCase controls uppercase vs lowercase hex output.
type HexCase bool

const (
	// HexLower outputs lowercase hex digits (0a.1b.2c).
	HexLower HexCase = false
	// HexUpper outputs uppercase hex digits (0A.1B.2C).
	HexUpper HexCase = true
)

const (
	hexLower = "0123456789abcdef"
	hexUpper = "0123456789ABCDEF"
)

func hexTable(hexCase HexCase) string {
	if hexCase == HexUpper {
		return hexUpper
	}
	return hexLower
}

// appendHex appends v as exactly width hex digits.
func appendHex(b *strings.Builder, v uint64, width int, table string) {
	for shift := (width - 1) * 4; shift >= 0; shift -= 4 {
		b.WriteByte(table[(v>>uint(shift))&0xf])
	}
}

// isPrintableASCII checks if all bytes are printable ASCII (0x20-0x7E).
func isPrintableASCII(data []byte) bool {
	for _, c := range data {
		if c < 0x20 || c > 0x7e {
			return false
		}
	}
	return true
}

// FormatBytes formats raw bytes as dot-separated hex pairs, the way
// prtconf prints byte properties.
func FormatBytes(data []byte, hexCase HexCase) string {
	if len(data) == 0 {
		return ""
	}
	table := hexTable(hexCase)
	var b strings.Builder
	b.Grow(len(data)*3 - 1)
	for i, c := range data {
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteByte(table[c>>4])
		b.WriteByte(table[c&0x0f])
	}
	return b.String()
}

// Format renders the value in prtconf style: integers as fixed-width hex
// joined by '.', strings quoted and joined by " + ", bytes as hex pairs.
// Boolean values render as the empty string since presence is the value.
func (v PropertyValue) Format(hexCase HexCase) string {
	table := hexTable(hexCase)
	var b strings.Builder
	switch v.Kind {
	case ValueBoolean:
		return ""
	case ValueInts:
		for i, n := range v.Ints {
			if i > 0 {
				b.WriteByte('.')
			}
			appendHex(&b, uint64(uint32(n)), 8, table)
		}
	case ValueInt64s:
		for i, n := range v.Int64s {
			if i > 0 {
				b.WriteByte('.')
			}
			appendHex(&b, uint64(n), 16, table)
		}
	case ValueStrings:
		for i, s := range v.Strings {
			if i > 0 {
				b.WriteString(" + ")
			}
			b.WriteByte('\'')
			b.WriteString(s)
			b.WriteByte('\'')
		}
	case ValueBytes:
		return FormatBytes(v.Bytes, hexCase)
	case ValueUnknown:
		// Unknown payloads are often text written by drivers that did not
		// declare a type.
		if len(v.Bytes) > 0 && isPrintableASCII(v.Bytes) {
			return "<unknown> '" + string(v.Bytes) + "'"
		}
		if len(v.Bytes) == 0 {
			return "<unknown>"
		}
		return "<unknown> " + FormatBytes(v.Bytes, hexCase)
	case ValueUndefined:
		return "<undefined>"
	case ValueDecodeFailed:
		return "<decode failed: " + strconv.Itoa(int(v.Code)) + ">"
	default:
		return "<invalid>"
	}
	return b.String()
}

// String formats the value with lowercase hex.
func (v PropertyValue) String() string {
	return v.Format(HexLower)
}

// FormatProperty renders "name=value", or just the name for boolean
// properties.
func FormatProperty(p Property, hexCase HexCase) string {
	v := p.Decode()
	if v.Kind == ValueBoolean {
		return p.Name()
	}
	return p.Name() + "=" + v.Format(hexCase)
}
