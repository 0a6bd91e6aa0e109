package port

import (
	"fmt"
	"net"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// Prober reports whether a port can currently be bound on the host.
// The planner and the check command depend on this interface so tests can
// substitute a fixed answer.
type Prober interface {
	IsPortAvailable(port int, protocol string) bool
}

// Scanner checks port availability by briefly binding the port.
//
// Binding asks the kernel directly, so no elevated permissions or external
// tools (ss, lsof, /proc/net parsing) are required.
type Scanner struct {
	// host is the bind address. Empty means all interfaces, which is where
	// Docker publishes ports by default.
	host string
}

// NewScanner returns a Scanner that probes all interfaces.
func NewScanner() *Scanner {
	return &Scanner{}
}

// NewScannerOn returns a Scanner that probes a single host address, for
// deployments that publish user ports on one interface only.
func NewScannerOn(host string) *Scanner {
	return &Scanner{host: host}
}

// IsPortAvailable binds port with the given protocol ("tcp" or "udp") and
// releases it immediately. It returns false if the bind fails, if the port
// is outside 1-65535, or if the protocol is unknown.
func (s *Scanner) IsPortAvailable(port int, protocol string) bool {
	if port < 1 || port > 65535 {
		return false
	}
	addr := net.JoinHostPort(s.host, fmt.Sprint(port))

	switch protocol {
	case "", "tcp":
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return false
		}
		_ = ln.Close()
		return true

	case "udp":
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true

	default:
		return false
	}
}

// Conflict is a registry assignment whose port is bound on the host.
type Conflict struct {
	Registry string
	model.PortAssignment
	Protocol string
}

func (c Conflict) String() string {
	return fmt.Sprintf("%s: %s is bound on the host (%s)", c.Registry, c.PortAssignment, c.Protocol)
}

// FindConflicts probes every assignment and returns those whose port is
// currently bound, in input order. A nil result means no conflicts.
//
// A bound port is not necessarily an error: the user's own container
// publishes its assigned port while it runs. Callers decide which bound
// ports are expected.
func FindConflicts(p Prober, registry string, assignments []model.PortAssignment, protocol string) []Conflict {
	if protocol == "" {
		protocol = "tcp"
	}
	var out []Conflict
	for _, a := range assignments {
		if !p.IsPortAvailable(a.Port, protocol) {
			out = append(out, Conflict{Registry: registry, PortAssignment: a, Protocol: protocol})
		}
	}
	return out
}
