package registry

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/flock"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/workshop-hub/internal/model"
)

const testBase = 22222

// newTestRegistry creates a Registry over a fresh record in t.TempDir().
func newTestRegistry(t *testing.T, opts Options) *Registry {
	t.Helper()
	if opts.Path == "" {
		opts.Path = filepath.Join(t.TempDir(), "ports.json")
	}
	if opts.Logger == nil {
		nop := zerolog.Nop()
		opts.Logger = &nop
	}
	r, err := New(opts)
	require.NoError(t, err)
	return r
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr bool
	}{
		{"valid", Options{Path: "/tmp/x.json", BasePort: 22222}, false},
		{"zero base", Options{Path: "/tmp/x.json", BasePort: 0}, false},
		{"highest base", Options{Path: "/tmp/x.json", BasePort: 65534}, false},
		{"empty path", Options{BasePort: 22222}, true},
		{"negative base", Options{Path: "/tmp/x.json", BasePort: -1}, true},
		{"base at max port", Options{Path: "/tmp/x.json", BasePort: 65535}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	r, err := New(Options{Path: "/srv/hub/ssh-ports.json", BasePort: 22222})
	require.NoError(t, err)

	assert.Equal(t, "ssh-ports.json", r.Name(), "name should default to the record file name")
	assert.Equal(t, DefaultLockTimeout, r.lockTimeout)
	assert.Equal(t, DefaultRetryDelay, r.retryDelay)
	assert.Equal(t, "/srv/hub/ssh-ports.json.lock", r.lockPath)
}

// TestAllocate_Example walks through the canonical example: base 22222,
// alice then bob then alice again.
func TestAllocate_Example(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	alice, err := r.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 22223, alice)

	bob, err := r.Allocate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 22224, bob)

	again, err := r.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 22223, again)

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, "{\"alice\": 22223, \"bob\": 22224}\n", string(data))
}

// TestAllocate_Deterministic verifies that repeated calls for the same user
// return the same port and do not rewrite the record.
func TestAllocate_Deterministic(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	first, err := r.Allocate(ctx, "carol")
	require.NoError(t, err)

	info, err := os.Stat(r.Path())
	require.NoError(t, err)
	before := info.ModTime()

	for i := 0; i < 5; i++ {
		port, err := r.Allocate(ctx, "carol")
		require.NoError(t, err)
		assert.Equal(t, first, port)
	}

	info, err = os.Stat(r.Path())
	require.NoError(t, err)
	assert.Equal(t, before, info.ModTime(), "fast path must not write")
}

// TestAllocate_DenseOrder verifies that the k-th distinct user receives
// base+k and that all ports are unique.
func TestAllocate_DenseOrder(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: 18789})

	seen := make(map[int]string)
	for k := 1; k <= 25; k++ {
		user := fmt.Sprintf("user%02d", k)
		port, err := r.Allocate(ctx, user)
		require.NoError(t, err)
		assert.Equal(t, 18789+k, port)

		prev, dup := seen[port]
		require.False(t, dup, "port %d assigned to both %s and %s", port, prev, user)
		seen[port] = user
	}
}

func TestAllocate_EmptyUser(t *testing.T) {
	r := newTestRegistry(t, Options{BasePort: testBase})

	_, err := r.Allocate(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, _, err = r.Lookup(context.Background(), "")
	assert.ErrorIs(t, err, ErrInvalidUser)

	_, statErr := os.Stat(r.Path())
	assert.True(t, os.IsNotExist(statErr), "no record should be created")
}

// TestAllocate_InvalidUTF8 verifies that names the record cannot store
// losslessly are rejected instead of being assigned a fresh port per call.
func TestAllocate_InvalidUTF8(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	for _, user := range []string{"a\xff", "a\xfe", "\xc3"} {
		_, err := r.Allocate(ctx, user)
		assert.ErrorIs(t, err, ErrInvalidUser, "user %q", user)

		_, _, err = r.Lookup(ctx, user)
		assert.ErrorIs(t, err, ErrInvalidUser, "user %q", user)
	}

	_, statErr := os.Stat(r.Path())
	assert.True(t, os.IsNotExist(statErr), "no record should be created")

	// Valid multi-byte names round-trip and keep their port.
	first, err := r.Allocate(ctx, "jürgen")
	require.NoError(t, err)
	again, err := r.Allocate(ctx, "jürgen")
	require.NoError(t, err)
	assert.Equal(t, first, again)

	bob, err := r.Allocate(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, first, bob)
}

// TestAllocate_PersistsAcrossRestart simulates a process restart with a new
// Registry value over the same record.
func TestAllocate_PersistsAcrossRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "ssh-ports.json")

	first := newTestRegistry(t, Options{Path: path, BasePort: testBase})
	alice, err := first.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, testBase+1, alice)

	restarted := newTestRegistry(t, Options{Path: path, BasePort: testBase})
	again, err := restarted.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice, again)

	bob, err := restarted.Allocate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, testBase+2, bob)
}

// TestAllocate_CorruptRecord verifies silent recovery: the first allocation
// over an unparsable record yields base+1, and the bad bytes are preserved
// next to the record.
func TestAllocate_CorruptRecord(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})
	require.NoError(t, os.WriteFile(r.Path(), []byte("{not json"), 0o644))

	port, err := r.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, testBase+1, port)

	preserved, err := os.ReadFile(r.Path() + corruptSuffix)
	require.NoError(t, err)
	assert.Equal(t, "{not json", string(preserved))

	entries, err := r.Entries(ctx)
	require.NoError(t, err)
	assert.Equal(t, []model.PortAssignment{{User: "alice", Port: testBase + 1}}, entries)
}

// TestAllocate_EmptyFile verifies that a zero-length record counts as empty
// and leaves nothing to preserve.
func TestAllocate_EmptyFile(t *testing.T) {
	r := newTestRegistry(t, Options{BasePort: testBase})
	require.NoError(t, os.WriteFile(r.Path(), nil, 0o644))

	port, err := r.Allocate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, testBase+1, port)

	_, statErr := os.Stat(r.Path() + corruptSuffix)
	assert.True(t, os.IsNotExist(statErr))
}

// TestLookup_CorruptRecordReadsEmpty verifies that reads never fail on a
// corrupt record and never modify it.
func TestLookup_CorruptRecordReadsEmpty(t *testing.T) {
	r := newTestRegistry(t, Options{BasePort: testBase})
	require.NoError(t, os.WriteFile(r.Path(), []byte(`["alice"]`), 0o644))

	_, ok, err := r.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, `["alice"]`, string(data))
}

func TestLookup(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	_, ok, err := r.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, ok, "absent record has no users")

	_, err = r.Allocate(ctx, "alice")
	require.NoError(t, err)

	port, ok, err := r.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, testBase+1, port)

	_, ok, err = r.Lookup(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, ok)

	entries, err := r.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "lookup must not assign")
}

// TestAllocate_HandEditedCollision verifies that a candidate port already
// held by another entry is skipped so ports stay unique.
func TestAllocate_HandEditedCollision(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})
	require.NoError(t, os.WriteFile(r.Path(), []byte(`{"alice": 22224}`), 0o644))

	bob, err := r.Allocate(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 22225, bob, "base+2 is taken by alice, so bob skips past it")

	carol, err := r.Allocate(ctx, "carol")
	require.NoError(t, err)
	assert.Equal(t, 22226, carol)
}

// TestAllocate_RangeExhausted verifies that no port above 65535 is ever
// assigned and that the failed call leaves the record untouched.
func TestAllocate_RangeExhausted(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: 65533})

	a, err := r.Allocate(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 65534, a)

	b, err := r.Allocate(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, 65535, b)

	before, err := os.ReadFile(r.Path())
	require.NoError(t, err)

	_, err = r.Allocate(ctx, "c")
	assert.ErrorIs(t, err, ErrRangeExhausted)

	after, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

// TestAllocate_PersistenceFailure makes the record's parent a regular file,
// which fails even when the tests run as root.
func TestAllocate_PersistenceFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	r := newTestRegistry(t, Options{Path: filepath.Join(blocker, "ports.json"), BasePort: testBase})

	port, err := r.Allocate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, port, "no port may be reported on failure")
}

// TestAllocate_WriteFailureKeepsRecord verifies that a failed write over an
// existing record leaves it untouched and reports no port.
func TestAllocate_WriteFailureKeepsRecord(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	seed := []byte(`{"alice": 22223, "bob": 22224}`)
	require.NoError(t, os.WriteFile(r.Path(), seed, 0o644))

	r.writeFile = func(string, []byte, os.FileMode) error {
		return fmt.Errorf("disk full")
	}

	port, err := r.Allocate(ctx, "carol")
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Zero(t, port, "no port may be reported on failure")

	after, err := os.ReadFile(r.Path())
	require.NoError(t, err)
	assert.Equal(t, seed, after)

	_, ok, err := r.Lookup(ctx, "carol")
	require.NoError(t, err)
	assert.False(t, ok)

	// Existing users are still served from the untouched record.
	alice, err := r.Allocate(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 22223, alice)
}

// TestAllocate_LockTimeout holds the exclusive lock from a separate file
// descriptor and verifies that a first-time allocation gives up.
func TestAllocate_LockTimeout(t *testing.T) {
	r := newTestRegistry(t, Options{
		BasePort:    testBase,
		LockTimeout: 150 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
	})

	holder := flock.New(r.Path() + lockSuffix)
	require.NoError(t, holder.Lock())
	defer func() { _ = holder.Unlock() }()

	start := time.Now()
	_, err := r.Allocate(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrLockTimeout)
	assert.Less(t, time.Since(start), 5*time.Second)

	_, statErr := os.Stat(r.Path())
	assert.True(t, os.IsNotExist(statErr), "nothing may be written without the lock")
}

// TestLookup_LockTimeout verifies that reads are bounded too when a writer
// holds the lock.
func TestLookup_LockTimeout(t *testing.T) {
	r := newTestRegistry(t, Options{
		BasePort:    testBase,
		LockTimeout: 100 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
	})
	require.NoError(t, os.WriteFile(r.Path(), []byte(`{"alice": 22223}`), 0o644))

	holder := flock.New(r.Path() + lockSuffix)
	require.NoError(t, holder.Lock())
	defer func() { _ = holder.Unlock() }()

	_, _, err := r.Lookup(context.Background(), "alice")
	assert.ErrorIs(t, err, ErrLockTimeout)
}

// TestLookup_SharedLocksCoexist verifies that a reader is not blocked by
// another reader.
func TestLookup_SharedLocksCoexist(t *testing.T) {
	r := newTestRegistry(t, Options{
		BasePort:    testBase,
		LockTimeout: 200 * time.Millisecond,
		RetryDelay:  10 * time.Millisecond,
	})
	require.NoError(t, os.WriteFile(r.Path(), []byte(`{"alice": 22223}`), 0o644))

	holder := flock.New(r.Path() + lockSuffix)
	require.NoError(t, holder.RLock())
	defer func() { _ = holder.Unlock() }()

	port, ok, err := r.Lookup(context.Background(), "alice")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 22223, port)
}

// TestAllocate_CallerCancel verifies that a cancelled caller context is
// reported as such rather than as a lock timeout.
func TestAllocate_CallerCancel(t *testing.T) {
	r := newTestRegistry(t, Options{BasePort: testBase})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Allocate(ctx, "alice")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrLockTimeout)
}

// TestAllocate_ConcurrentFirstTime races many first-time allocations through
// separate Registry values over one record. Every user must get a distinct
// port and together they must fill base+1..base+n exactly.
func TestAllocate_ConcurrentFirstTime(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ports.json")
	const n = 20

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ports = make(map[string]int, n)
		errs  []error
	)
	regs := make([]*Registry, n)
	for i := range regs {
		regs[i] = newTestRegistry(t, Options{Path: path, BasePort: testBase})
	}

	start := make(chan struct{})
	for i, r := range regs {
		wg.Add(1)
		go func(i int, r *Registry) {
			defer wg.Done()
			<-start
			user := fmt.Sprintf("user%d", i)
			port, err := r.Allocate(ctx, user)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			ports[user] = port
		}(i, r)
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	assertDense(t, ports, testBase, n)

	r := newTestRegistry(t, Options{Path: path, BasePort: testBase})
	next, err := r.Allocate(ctx, "latecomer")
	require.NoError(t, err)
	assert.Equal(t, testBase+n+1, next)
}

// TestAllocate_ConcurrentSameUser verifies that concurrent first-time calls
// for one user agree on a single port.
func TestAllocate_ConcurrentSameUser(t *testing.T) {
	ctx := context.Background()
	r := newTestRegistry(t, Options{BasePort: testBase})

	var wg sync.WaitGroup
	results := make([]int, 10)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			port, err := r.Allocate(ctx, "alice")
			assert.NoError(t, err)
			results[i] = port
		}(i)
	}
	wg.Wait()

	for _, p := range results {
		assert.Equal(t, testBase+1, p)
	}
	entries, err := r.Entries(ctx)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// TestAllocate_CrossProcess runs allocations in child processes so that only
// the file lock, not the in-process mutex, keeps them apart.
func TestAllocate_CrossProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns child processes")
	}
	path := filepath.Join(t.TempDir(), "ports.json")
	const n = 6

	var (
		wg    sync.WaitGroup
		mu    sync.Mutex
		ports = make(map[string]int, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("proc%d", i)
			cmd := exec.Command(os.Args[0], "-test.run=^TestHelperProcess$")
			cmd.Env = append(os.Environ(),
				"REGISTRY_HELPER_PROCESS=1",
				"REGISTRY_HELPER_PATH="+path,
				"REGISTRY_HELPER_USER="+user,
			)
			out, err := cmd.Output()
			if !assert.NoError(t, err, "child for %s failed", user) {
				return
			}
			port, err := strconv.Atoi(strings.TrimSpace(lastLine(string(out))))
			if !assert.NoError(t, err, "unexpected child output %q", out) {
				return
			}
			mu.Lock()
			ports[user] = port
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	require.Len(t, ports, n)
	assertDense(t, ports, testBase, n)
}

// TestHelperProcess is not a real test. It is the child side of
// TestAllocate_CrossProcess.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("REGISTRY_HELPER_PROCESS") != "1" {
		return
	}
	port, err := Allocate(context.Background(),
		os.Getenv("REGISTRY_HELPER_USER"),
		os.Getenv("REGISTRY_HELPER_PATH"),
		testBase,
	)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Println(port)
	os.Exit(0)
}

func TestSet(t *testing.T) {
	dir := t.TempDir()
	ssh := newTestRegistry(t, Options{Name: "ssh", Path: filepath.Join(dir, "ssh.json"), BasePort: 22222})
	claw := newTestRegistry(t, Options{Name: "openclaw", Path: filepath.Join(dir, "claw.json"), BasePort: 18789})

	set, err := NewSet(ssh, claw)
	require.NoError(t, err)
	assert.Equal(t, []string{"openclaw", "ssh"}, set.Names())

	got, err := set.Get("ssh")
	require.NoError(t, err)
	assert.Same(t, ssh, got)

	_, err = set.Get("ftp")
	assert.ErrorIs(t, err, ErrUnknownRegistry)

	all := set.All()
	require.Len(t, all, 2)
	assert.Equal(t, "openclaw", all[0].Name())

	_, err = NewSet(ssh, ssh)
	assert.Error(t, err, "duplicate names must be rejected")
}

// TestSet_RegistriesIndependent verifies that two registries never share
// state: each starts at its own base+1.
func TestSet_RegistriesIndependent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	ssh := newTestRegistry(t, Options{Name: "ssh", Path: filepath.Join(dir, "ssh.json"), BasePort: 22222})
	claw := newTestRegistry(t, Options{Name: "openclaw", Path: filepath.Join(dir, "claw.json"), BasePort: 18789})

	p1, err := ssh.Allocate(ctx, "alice")
	require.NoError(t, err)
	p2, err := claw.Allocate(ctx, "bob")
	require.NoError(t, err)

	assert.Equal(t, 22223, p1)
	assert.Equal(t, 18790, p2)
}

func assertDense(t *testing.T, ports map[string]int, base, n int) {
	t.Helper()
	got := make([]int, 0, len(ports))
	for _, p := range ports {
		got = append(got, p)
	}
	sort.Ints(got)

	want := make([]int, n)
	for i := range want {
		want[i] = base + i + 1
	}
	assert.Equal(t, want, got)
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return lines[len(lines)-1]
}
