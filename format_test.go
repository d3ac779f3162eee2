package devinfo

import (
	"testing"
)

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name  string
		value []byte
		hex   HexCase
		want  string
	}{
		{"empty", []byte{}, HexLower, ""},
		{"single byte", []byte{0xff}, HexLower, "ff"},
		{"mac lower", []byte{0x00, 0x1a, 0x2b, 0x3c}, HexLower, "00.1a.2b.3c"},
		{"mac upper", []byte{0x00, 0x1a, 0x2b, 0x3c}, HexUpper, "00.1A.2B.3C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FormatBytes(tt.value, tt.hex)
			if got != tt.want {
				t.Errorf("FormatBytes(%v) = %q, want %q", tt.value, got, tt.want)
			}
		})
	}
}

func TestPropertyValueFormat(t *testing.T) {
	tests := []struct {
		name  string
		value PropertyValue
		want  string
	}{
		{"boolean", PropertyValue{Kind: ValueBoolean}, ""},
		{"ints", PropertyValue{Kind: ValueInts, Ints: []int32{1, 0x1af4}}, "00000001.00001af4"},
		{"negative int", PropertyValue{Kind: ValueInts, Ints: []int32{-1}}, "ffffffff"},
		{"empty ints", PropertyValue{Kind: ValueInts}, ""},
		{"int64s", PropertyValue{Kind: ValueInt64s, Int64s: []int64{1}}, "0000000000000001"},
		{"one string", PropertyValue{Kind: ValueStrings, Strings: []string{"pci"}}, "'pci'"},
		{"strings", PropertyValue{Kind: ValueStrings, Strings: []string{"a", "b"}}, "'a' + 'b'"},
		{"bytes", PropertyValue{Kind: ValueBytes, Bytes: []byte{0xde, 0xad}}, "de.ad"},
		{"unknown text", PropertyValue{Kind: ValueUnknown, Bytes: []byte("hi")}, "<unknown> 'hi'"},
		{"unknown binary", PropertyValue{Kind: ValueUnknown, Bytes: []byte{0, 1}}, "<unknown> 00.01"},
		{"unknown empty", PropertyValue{Kind: ValueUnknown}, "<unknown>"},
		{"undefined", PropertyValue{Kind: ValueUndefined}, "<undefined>"},
		{"failed", PropertyValue{Kind: ValueDecodeFailed, Code: -1}, "<decode failed: -1>"},
		{"invalid kind", PropertyValue{Kind: ValueKind(99)}, "<invalid>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.value.String()
			if got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPropertyValueFormatUpper(t *testing.T) {
	v := PropertyValue{Kind: ValueInts, Ints: []int32{0xabc}}
	if got := v.Format(HexUpper); got != "00000ABC" {
		t.Errorf("Format(HexUpper) = %q, want %q", got, "00000ABC")
	}
}

func TestFormatProperty(t *testing.T) {
	props := propSnapshot(t,
		BoolProp("hotpluggable"),
		StringProp("device_type", "pci"),
		IntProp("reg", 0, 16),
	)

	want := []string{"hotpluggable", "device_type='pci'", "reg=00000000.00000010"}
	for i, p := range props {
		if got := FormatProperty(p, HexLower); got != want[i] {
			t.Errorf("FormatProperty(%s) = %q, want %q", p.Name(), got, want[i])
		}
	}
}
