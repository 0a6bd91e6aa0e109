package port

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

// listenTCP binds an OS-assigned TCP port for the duration of the test.
func listenTCP(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err, "failed to start test listener")
	t.Cleanup(func() { _ = ln.Close() })

	addr, ok := ln.Addr().(*net.TCPAddr)
	require.True(t, ok)
	return addr.Port
}

// freeTCP returns a port that was free a moment ago. The listener is closed
// before returning so the port can be probed.
func freeTCP(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

// TestIsPortAvailable_UsedPort verifies that a bound TCP port is reported
// as unavailable.
func TestIsPortAvailable_UsedPort(t *testing.T) {
	port := listenTCP(t)
	assert.False(t, NewScanner().IsPortAvailable(port, "tcp"), "port %d has a listener", port)
}

func TestIsPortAvailable_FreePort(t *testing.T) {
	port := freeTCP(t)
	assert.True(t, NewScanner().IsPortAvailable(port, "tcp"))
	assert.True(t, NewScanner().IsPortAvailable(port, ""), "empty protocol means tcp")
}

// TestIsPortAvailable_UDP verifies UDP probing against a bound socket.
func TestIsPortAvailable_UDP(t *testing.T) {
	conn, err := net.ListenPacket("udp", ":0")
	require.NoError(t, err, "failed to start test UDP listener")
	defer func() { _ = conn.Close() }()

	port := conn.LocalAddr().(*net.UDPAddr).Port
	assert.False(t, NewScanner().IsPortAvailable(port, "udp"))
}

// TestIsPortAvailable_Invalid verifies the fail-safe answers for input the
// scanner cannot probe.
func TestIsPortAvailable_Invalid(t *testing.T) {
	s := NewScanner()
	assert.False(t, s.IsPortAvailable(50000, "sctp"), "unknown protocol")
	assert.False(t, s.IsPortAvailable(0, "tcp"), "port 0")
	assert.False(t, s.IsPortAvailable(70000, "tcp"), "port above 65535")
}

func TestNewScannerOn_Loopback(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = ln.Close() }()
	port := ln.Addr().(*net.TCPAddr).Port

	assert.False(t, NewScannerOn("127.0.0.1").IsPortAvailable(port, "tcp"))
}

// TestFindConflicts verifies that only bound ports are reported and that
// input order is kept.
func TestFindConflicts(t *testing.T) {
	busy := listenTCP(t)
	free := freeTCP(t)

	got := FindConflicts(NewScanner(), "ssh", []model.PortAssignment{
		{User: "alice", Port: free},
		{User: "bob", Port: busy},
	}, "")

	require.Len(t, got, 1)
	assert.Equal(t, "bob", got[0].User)
	assert.Equal(t, busy, got[0].Port)
	assert.Equal(t, "ssh", got[0].Registry)
	assert.Equal(t, "tcp", got[0].Protocol)
}

type fixedProber map[int]bool

func (f fixedProber) IsPortAvailable(port int, _ string) bool { return !f[port] }

func TestFindConflicts_NoneBound(t *testing.T) {
	got := FindConflicts(fixedProber{}, "ssh", []model.PortAssignment{{User: "a", Port: 22223}}, "tcp")
	assert.Nil(t, got)
}

func TestConflictString(t *testing.T) {
	c := Conflict{Registry: "ssh", PortAssignment: model.PortAssignment{User: "alice", Port: 22223}, Protocol: "tcp"}
	assert.Equal(t, "ssh: alice=22223 is bound on the host (tcp)", c.String())
}
