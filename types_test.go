package devinfo

import (
	"testing"
)

func TestABIConstants(t *testing.T) {
	tests := []struct {
		name string
		got  int64
		want int64
	}{
		{"FlagSubtree", int64(FlagSubtree), 0x01},
		{"FlagMinors", int64(FlagMinors), 0x02},
		{"FlagProperties", int64(FlagProperties), 0x04},
		{"FlagPath", int64(FlagPath), 0x08},
		{"FlagPrivateData", int64(FlagPrivateData), 0x10},
		{"FlagForceLoad", int64(FlagForceLoad), 0x20},
		{"FlagLayering", int64(FlagLayering), 0x40},
		{"FlagUseCache", int64(FlagUseCache), 0x100000},
		{"FlagCleanupCache", int64(FlagCleanupCache), 0x200000},
		{"FlagHotplug", int64(FlagHotplug), 0x400000},
		{"CopyOne", int64(CopyOne), 0},
		{"CopyAll", int64(CopyAll), 0x07},
		{"CopyAll word", int64(CopyAll.Word()), 0xDF07},
		{"CopyOne word", int64(CopyOne.Word()), 0xDF00},

		{"LinkMakeLink", int64(LinkMakeLink), 0x01},
		{"LinkPrimary", int64(LinkPrimary), 0x01},
		{"LinkSecondary", int64(LinkSecondary), 0x02},
		{"LinkAll", int64(LinkAll), 0x03},

		{"WalkContinue code", int64(WalkContinue.Code()), 0},
		{"WalkPruneSiblings code", int64(WalkPruneSiblings.Code()), -1},
		{"WalkPruneChildren code", int64(WalkPruneChildren.Code()), -2},
		{"WalkTerminate code", int64(WalkTerminate.Code()), -3},

		{"PropBoolean", int64(PropBoolean), 0},
		{"PropInt", int64(PropInt), 1},
		{"PropString", int64(PropString), 2},
		{"PropByte", int64(PropByte), 3},
		{"PropUnknown", int64(PropUnknown), 4},
		{"PropUndefined", int64(PropUndefined), 5},
		{"PropInt64", int64(PropInt64), 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %#x, want %#x", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestDirectiveFromCode(t *testing.T) {
	for _, d := range []WalkDirective{WalkContinue, WalkPruneSiblings, WalkPruneChildren, WalkTerminate} {
		got, ok := DirectiveFromCode(d.Code())
		if !ok || got != d {
			t.Errorf("DirectiveFromCode(%d) = %v, %v; want %v, true", d.Code(), got, ok, d)
		}
	}

	for _, code := range []int{1, -4, 42} {
		got, ok := DirectiveFromCode(code)
		if ok {
			t.Errorf("DirectiveFromCode(%d) reported ok", code)
		}
		if got != WalkContinue {
			t.Errorf("DirectiveFromCode(%d) = %v, want continue", code, got)
		}
	}
}

func TestFlagsPrivileged(t *testing.T) {
	tests := []struct {
		flags Flags
		want  bool
	}{
		{CopyAll, false},
		{CopyAll | FlagHotplug | FlagLayering | FlagPath, false},
		{FlagPrivateData, true},
		{FlagForceLoad, true},
		{CopyAll | FlagUseCache, true},
		{FlagCleanupCache, true},
	}

	for _, tt := range tests {
		if got := tt.flags.Privileged(); got != tt.want {
			t.Errorf("Flags(%#x).Privileged() = %v, want %v", uint32(tt.flags), got, tt.want)
		}
	}
}

func TestParsePropType(t *testing.T) {
	for typ := PropBoolean; typ <= PropInt64; typ++ {
		got, ok := ParsePropType(typ.String())
		if !ok || got != typ {
			t.Errorf("ParsePropType(%q) = %v, %v", typ.String(), got, ok)
		}
	}
	if _, ok := ParsePropType("float"); ok {
		t.Error("ParsePropType(\"float\") reported ok")
	}
}
