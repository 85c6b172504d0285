package inventory

import (
	"net/netip"
	"strconv"
	"strings"
)

// ParseIPv4 parses a dotted quad, rejecting IPv6 and zoned forms.
func ParseIPv4(raw string) (netip.Addr, bool) {
	addr, err := netip.ParseAddr(strings.TrimSpace(raw))
	if err != nil || !addr.Is4() {
		return netip.Addr{}, false
	}
	return addr, true
}

// NormalizeMask accepts "255.255.255.0", "/24" or "24" and returns the
// dotted form with its prefix length. Non-contiguous masks and /0 are
// rejected.
func NormalizeMask(raw string) (string, int, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", 0, false
	}

	if bits, err := strconv.Atoi(strings.TrimPrefix(s, "/")); err == nil {
		if bits < 1 || bits > 32 {
			return "", 0, false
		}
		return maskString(bits), bits, true
	}

	addr, ok := ParseIPv4(s)
	if !ok {
		return "", 0, false
	}

	b := addr.As4()
	m := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	inv := ^m
	if m == 0 || inv&(inv+1) != 0 {
		return "", 0, false
	}

	bits := 32
	for inv != 0 {
		inv >>= 1
		bits--
	}
	return addr.String(), bits, true
}

func maskString(bits int) string {
	m := ^uint32(0) << (32 - bits)
	return netip.AddrFrom4([4]byte{byte(m >> 24), byte(m >> 16), byte(m >> 8), byte(m)}).String()
}

// Subnet returns the prefix containing ip under the given mask.
func Subnet(ip, mask string) (netip.Prefix, bool) {
	addr, ok := ParseIPv4(ip)
	if !ok {
		return netip.Prefix{}, false
	}
	_, bits, ok := NormalizeMask(mask)
	if !ok {
		return netip.Prefix{}, false
	}
	p, err := addr.Prefix(bits)
	if err != nil {
		return netip.Prefix{}, false
	}
	return p, true
}

// Broadcast returns the last address of p.
func Broadcast(p netip.Prefix) netip.Addr {
	b := p.Addr().As4()
	n := uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
	n |= ^uint32(0) >> p.Bits()
	return netip.AddrFrom4([4]byte{byte(n >> 24), byte(n >> 16), byte(n >> 8), byte(n)})
}

// SuggestIPv4 tries to repair common typos in a dotted quad: stray
// whitespace, commas used as separators, doubled dots, leading zeros
// and octets above 255 (trimmed to their longest valid prefix). It
// returns "" when no plausible repair exists.
func SuggestIPv4(raw string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r == ',' || r == ';':
			return '.'
		case r == ' ' || r == '\t':
			return -1
		}
		return r
	}, raw)

	for strings.Contains(s, "..") {
		s = strings.ReplaceAll(s, "..", ".")
	}
	s = strings.Trim(s, ".")

	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return ""
	}

	for i, part := range parts {
		if part == "" {
			return ""
		}
		for _, r := range part {
			if r < '0' || r > '9' {
				return ""
			}
		}
		part = strings.TrimLeft(part, "0")
		if part == "" {
			part = "0"
		}
		for len(part) > 1 {
			if n, _ := strconv.Atoi(part); n <= 255 {
				break
			}
			part = part[:len(part)-1]
		}
		parts[i] = part
	}

	fixed := strings.Join(parts, ".")
	if fixed == strings.TrimSpace(raw) {
		return ""
	}
	if _, ok := ParseIPv4(fixed); !ok {
		return ""
	}
	return fixed
}
