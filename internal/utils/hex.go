package utils

const hexd = "0123456789ABCDEF"

// Hex4 formats v as four upper-case hex digits, e.g. "FFFF".
func Hex4(v uint16) string {
	return string([]byte{
		hexd[(v>>12)&0xF],
		hexd[(v>>8)&0xF],
		hexd[(v>>4)&0xF],
		hexd[v&0xF],
	})
}

// BytesToHex renders b as upper-case hex without separators.
func BytesToHex(b []byte) string {
	out := make([]byte, 0, len(b)*2)
	for _, x := range b {
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}

// HeadHex renders at most n leading bytes of b, marking truncation with "..".
func HeadHex(b []byte, n int) string {
	if len(b) <= n {
		return BytesToHex(b)
	}
	return BytesToHex(b[:n]) + ".."
}
