//go:build !windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// portOccupants returns the PIDs listening on the given TCP port.
func portOccupants(port int) ([]int, error) {
	out, err := exec.Command("lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port), "-sTCP:LISTEN").Output()
	if err != nil {
		// lsof exits non-zero when nothing matches; with no output that
		// just means the port freed up between checks.
		if len(out) == 0 {
			return nil, nil
		}
		return nil, fmt.Errorf("lsof failed: %w", err)
	}

	var pids []int
	for _, field := range strings.Fields(string(out)) {
		pid, err := strconv.Atoi(field)
		if err != nil {
			return nil, fmt.Errorf("unexpected lsof output %q: %w", field, err)
		}
		pids = append(pids, pid)
	}
	return pids, nil
}
