// Package util contains misc internal utilities.
package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseAddrs parses I/O port addresses written in any base Go understands,
// e.g. []string{"0x300", "768"} => []uint64{0x300, 0x300}
func ParseAddrs(ss []string) ([]uint64, error) {
	out := make([]uint64, len(ss))
	for i, s := range ss {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
		if err != nil {
			return nil, fmt.Errorf("address %d %q: %w", i, s, err)
		}
		out[i] = v
	}
	return out, nil
}

// AddrsToCSV converts a slice of addresses to hex CSV formatted data.
// e.g., []uint64{0x300,0x304} => "0x300,0x304"
func AddrsToCSV(addrs []uint64) string {
	s := make([]string, len(addrs))
	for i, v := range addrs {
		s[i] = "0x" + strconv.FormatUint(v, 16)
	}
	return strings.Join(s, ",")
}

// GetBit returns the value of a given bit in a byte
func GetBit(b byte, bitIndex uint) bool {
	return b&(1<<bitIndex) != 0
}

// SecsToDuration converts a number of seconds to a duration without losing
// the sub-nanosecond rounding to truncation
func SecsToDuration(secs float64) time.Duration {
	return time.Duration(secs*1e9 + 0.5)
}
