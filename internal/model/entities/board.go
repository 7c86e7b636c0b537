package entities

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// BoardID identifies one mesh participant (0..MaxBoards-1).
type BoardID uint8

const (
	// MaxBoards is the largest mesh the retained layout can hold.
	MaxBoards = 4
	// AddrSize is the size of a board link address (MAC).
	AddrSize = 6
)

// Addr is the 6-byte link-layer address of a board.
type Addr [AddrSize]byte

// DefaultAddresses is the factory address table of the four-board cluster.
var DefaultAddresses = [MaxBoards]Addr{
	{0x10, 0x52, 0x1C, 0x67, 0x71, 0xA0}, // board 0 (coordinator)
	{0x2C, 0xF4, 0x32, 0x19, 0x86, 0xF5},
	{0x50, 0x02, 0x91, 0x68, 0x34, 0x57},
	{0xA4, 0xCF, 0x12, 0xD9, 0x93, 0xAB},
}

// String formats the address as 12 lowercase hex digits, the form used in link topics.
func (a Addr) String() string {
	return hex.EncodeToString(a[:])
}

// ParseAddr accepts "10521c6771a0" or "10:52:1C:67:71:A0".
func ParseAddr(s string) (Addr, error) {
	var a Addr
	clean := strings.ToLower(strings.NewReplacer(":", "", "-", "").Replace(strings.TrimSpace(s)))
	if len(clean) != 2*AddrSize {
		return a, fmt.Errorf("invalid board address %q", s)
	}
	raw, err := hex.DecodeString(clean)
	if err != nil {
		return a, fmt.Errorf("invalid board address %q: %w", s, err)
	}
	copy(a[:], raw)
	return a, nil
}
