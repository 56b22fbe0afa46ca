package watchwire

import (
	"fmt"
	"strconv"
	"strings"
)

// PduType identifies the wire format of a PDU.
type PduType uint8

const (
	// NeedData means not enough bytes are buffered to tell which format is arriving.
	NeedData PduType = iota
	// JSONCompact is single line JSON terminated by a newline.
	JSONCompact
	// JSONPretty is indented JSON, framed by balanced braces.
	JSONPretty
	// BSER is version 1 of the binary format: no capabilities in the header.
	BSER
	// BSERv2 is version 2 of the binary format: the header carries a [Capability] mask.
	BSERv2
)

func (t PduType) String() string {
	switch t {
	case NeedData:
		return "need-data"
	case JSONCompact:
		return "json"
	case JSONPretty:
		return "json-pretty"
	case BSER:
		return "bser"
	case BSERv2:
		return "bser-v2"
	}

	return "pdu(" + strconv.Itoa(int(t)) + ")"
}

// IsJSON reports whether t is one of the JSON framings.
func (t PduType) IsJSON() bool {
	return t == JSONCompact || t == JSONPretty
}

// IsBSER reports whether t is one of the binary versions.
func (t PduType) IsBSER() bool {
	return t == BSER || t == BSERv2
}

// ParsePduType parses the names used on command lines and in config files:
// json, json-compact, json-pretty, bser, bser-v1 and bser-v2.
func ParsePduType(s string) (PduType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json", "json-compact":
		return JSONCompact, nil
	case "json-pretty", "pretty":
		return JSONPretty, nil
	case "bser", "bser-v1":
		return BSER, nil
	case "bser-v2":
		return BSERv2, nil
	}

	return NeedData, fmt.Errorf("%w: %q", ErrUnknownPduType, s)
}

// Capability is the feature mask carried in a BSER v2 header. It is meaningless
// for JSON and BSER v1.
type Capability uint32

const (
	// CapDisableUnicode makes the encoder emit every string as a byte string.
	CapDisableUnicode Capability = 1 << iota
	// CapDisableUnicodeForErrors makes the encoder emit the value of an "error"
	// member as a byte string.
	CapDisableUnicodeForErrors
	// CapCompactInts makes the encoder pick the smallest integer width that holds
	// each value. Without it every integer is written as int64.
	CapCompactInts

	// SupportedCapabilities is every bit this package understands.
	SupportedCapabilities = CapDisableUnicode | CapDisableUnicodeForErrors | CapCompactInts

	// DefaultCapabilities is used when no negotiation took place.
	DefaultCapabilities = CapCompactInts
)

var capabilityNames = []struct {
	c    Capability
	name string
}{
	{CapDisableUnicode, "disable-unicode"},
	{CapDisableUnicodeForErrors, "disable-unicode-for-errors"},
	{CapCompactInts, "compact-ints"},
}

// Has reports whether every bit of o is set in c.
func (c Capability) Has(o Capability) bool {
	return c&o == o
}

// Names lists the known capability names set in c.
func (c Capability) Names() []string {
	var names []string

	for _, cn := range capabilityNames {
		if c.Has(cn.c) {
			names = append(names, cn.name)
		}
	}

	return names
}

func (c Capability) String() string {
	names := c.Names()

	if rest := c &^ SupportedCapabilities; rest != 0 {
		names = append(names, fmt.Sprintf("0x%x", uint32(rest)))
	}

	if len(names) == 0 {
		return "none"
	}

	return strings.Join(names, "|")
}

// ParseCapabilities parses capability names as returned by [Capability.Names].
func ParseCapabilities(names ...string) (Capability, error) {
	var c Capability

outer:
	for _, name := range names {
		for _, cn := range capabilityNames {
			if cn.name == name {
				c |= cn.c
				continue outer
			}
		}

		return 0, fmt.Errorf("watchwire: unknown capability %q", name)
	}

	return c, nil
}

// Negotiate returns the capabilities both sides support.
func Negotiate(local, peer Capability) Capability {
	return local & peer
}
