package state

import "strings"

var (
	marketPrefix     = []byte("lending/market/")
	reservePrefix    = []byte("lending/reserve/")
	obligationPrefix = []byte("lending/obligation/")
)

func appendKey(prefix []byte, parts ...string) []byte {
	size := len(prefix)
	for _, part := range parts {
		size += len(part) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, strings.TrimSpace(part)...)
	}
	return buf
}

func marketKey(marketID string) []byte {
	return appendKey(marketPrefix, marketID)
}

func reserveKey(marketID, reserveID string) []byte {
	return appendKey(reservePrefix, marketID, reserveID)
}

func obligationKey(marketID, obligationID string) []byte {
	return appendKey(obligationPrefix, marketID, obligationID)
}
