// Package portalloc probes loopback TCP bindability to find a free port for
// a new deployment (spec.md §4.2). Best-effort: a TOCTOU window exists
// between the probe and the container engine actually binding the port, so
// callers must also translate engine "port already allocated" errors into
// a PortConflictError.
package portalloc

import (
	"net"
	"strconv"

	"mcp-cicd-agent/internal/cicderr"
)

// IsAvailable reports whether port can currently be bound on 127.0.0.1.
func IsAvailable(port int) bool {
	ln, err := net.Listen("tcp", "127.0.0.1:"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	_ = ln.Close()
	return true
}

// FindAvailable scans [start, end] ascending and returns the first bindable
// port, or a PortConflictError if none is free.
func FindAvailable(start, end int) (int, error) {
	for port := start; port <= end; port++ {
		if IsAvailable(port) {
			return port, nil
		}
	}
	return 0, cicderr.New(cicderr.KindPortConflict,
		"no available ports in range",
		map[string]any{"start": start, "end": end})
}
