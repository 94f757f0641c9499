//go:build windows

package process

import (
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// portOccupants returns the PIDs listening on the given TCP port, parsed
// from netstat output.
func portOccupants(port int) ([]int, error) {
	out, err := exec.Command("netstat", "-ano", "-p", "tcp").Output()
	if err != nil {
		return nil, fmt.Errorf("netstat failed: %w", err)
	}

	suffix := fmt.Sprintf(":%d", port)
	seen := make(map[int]bool)
	var pids []int
	for _, line := range strings.Split(string(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) < 5 || fields[0] != "TCP" {
			continue
		}
		if !strings.HasSuffix(fields[1], suffix) || fields[3] != "LISTENING" {
			continue
		}
		pid, err := strconv.Atoi(fields[4])
		if err != nil || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids, nil
}
