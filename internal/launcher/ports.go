package launcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// PortReclaimer terminates whatever currently holds a port.
type PortReclaimer interface {
	Reclaim(ctx context.Context, port int) ([]int, error)
}

// LsofReclaimer discovers port holders with lsof and sends them SIGTERM.
type LsofReclaimer struct {
	timeout time.Duration
}

// NewLsofReclaimer creates a reclaimer whose lsof calls never outlive timeout.
func NewLsofReclaimer(timeout time.Duration) *LsofReclaimer {
	return &LsofReclaimer{timeout: timeout}
}

// Reclaim signals every process bound to port, except conductor itself.
func (r *LsofReclaimer) Reclaim(ctx context.Context, port int) ([]int, error) {
	path, err := exec.LookPath("lsof")
	if err != nil {
		return nil, ErrToolUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, path, "-t", "-i", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(out) == 0 {
			// lsof exits 1 when nothing holds the port
			return nil, nil
		}
		return nil, fmt.Errorf("lsof port %d: %w", port, err)
	}

	self := os.Getpid()
	var pids []int
	for _, pid := range parsePIDs(string(out)) {
		if pid == self {
			continue
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			continue
		}
		if err := proc.Signal(syscall.SIGTERM); err != nil {
			log.Printf("Signal pid %d on port %d failed: %v", pid, port, err)
			continue
		}
		pids = append(pids, pid)
	}
	return pids, nil
}

func parsePIDs(out string) []int {
	seen := make(map[int]bool)
	var pids []int
	for _, field := range strings.Fields(out) {
		pid, err := strconv.Atoi(field)
		if err != nil || pid <= 0 || seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids
}
