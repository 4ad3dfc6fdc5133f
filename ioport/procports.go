package ioport

import (
	"bufio"
	"os"
	"strconv"
	"strings"
)

// readProcIOPorts parses the top level regions of /proc/ioports,
// lines of the form "0060-0060 : keyboard"
func readProcIOPorts(path string) ([]Region, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseIOPorts(bufio.NewScanner(f))
}

func parseIOPorts(sc *bufio.Scanner) ([]Region, error) {
	var out []Region
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			// nested under a bus bridge, covered by its parent
			continue
		}
		chunks := strings.SplitN(line, ":", 2)
		if len(chunks) != 2 {
			continue
		}
		bounds := strings.SplitN(strings.TrimSpace(chunks[0]), "-", 2)
		if len(bounds) != 2 {
			continue
		}
		lo, err := strconv.ParseUint(bounds[0], 16, 64)
		if err != nil {
			continue
		}
		hi, err := strconv.ParseUint(bounds[1], 16, 64)
		if err != nil || hi < lo {
			continue
		}
		owner := strings.TrimSpace(chunks[1])
		if strings.HasPrefix(owner, "PCI Bus") {
			// the root bus window spans every free port
			continue
		}
		out = append(out, Region{Base: lo, N: int(hi-lo) + 1, Owner: owner})
	}
	return out, sc.Err()
}
