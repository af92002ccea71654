package model

import (
	"fmt"
	"strconv"
	"strings"
)

// RGB is a colour with 8-bit channels.
type RGB struct {
	R, G, B uint8
}

// ParseHex parses "#rrggbb" (case-insensitive, leading '#' optional).
func ParseHex(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("%w: colour %q", ErrMalformedRecord, s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("%w: colour %q", ErrMalformedRecord, s)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

// Hex renders the colour as lower-case "#rrggbb".
func (c RGB) Hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Value packs the colour into a single integer 0xRRGGBB. This is the scalar
// used by the mean-colour feature and the cold-start distance.
func (c RGB) Value() float64 {
	return float64(uint32(c.R)<<16 | uint32(c.G)<<8 | uint32(c.B))
}

// ParseColors parses every colour of an enriched record.
func ParseColors(colors []string) ([]RGB, error) {
	if len(colors) == 0 {
		return nil, fmt.Errorf("%w: no dominant colours", ErrMalformedRecord)
	}
	out := make([]RGB, len(colors))
	for i, s := range colors {
		c, err := ParseHex(s)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}
