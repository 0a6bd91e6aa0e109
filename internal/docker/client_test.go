package docker

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketCandidates(t *testing.T) {
	tests := []struct {
		name       string
		goos       string
		home       string
		runtimeDir string
		want       []string
	}{
		{
			name: "linux system socket only",
			goos: "linux",
			want: []string{"/var/run/docker.sock"},
		},
		{
			name:       "linux rootless",
			goos:       "linux",
			runtimeDir: "/run/user/1000",
			want:       []string{"/var/run/docker.sock", "/run/user/1000/docker.sock"},
		},
		{
			name: "darwin desktop",
			goos: "darwin",
			home: "/Users/alice",
			want: []string{"/var/run/docker.sock", "/Users/alice/.docker/run/docker.sock"},
		},
		{
			name:       "other platforms ignore per-user sockets",
			goos:       "freebsd",
			home:       "/home/alice",
			runtimeDir: "/run/user/1000",
			want:       []string{"/var/run/docker.sock"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, socketCandidates(tt.goos, tt.home, tt.runtimeDir))
		})
	}
}

func TestFirstSocket(t *testing.T) {
	dir := t.TempDir()
	present := filepath.Join(dir, "docker.sock")
	require.NoError(t, os.WriteFile(present, nil, 0o600))

	host, err := firstSocket([]string{filepath.Join(dir, "missing.sock"), present})
	require.NoError(t, err)
	assert.Equal(t, "unix://"+present, host)

	_, err = firstSocket([]string{filepath.Join(dir, "missing.sock")})
	assert.Error(t, err)
}
