package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/moby/sys/atomicwriter"
	"github.com/rs/zerolog"

	"github.com/shinji-kodama/workshop-hub/internal/logging"
	"github.com/shinji-kodama/workshop-hub/internal/model"
)

const (
	// DefaultLockTimeout bounds how long an operation waits for the registry
	// lock before failing with ErrLockTimeout.
	DefaultLockTimeout = 10 * time.Second

	// DefaultRetryDelay is the polling interval while a lock is contended.
	DefaultRetryDelay = 50 * time.Millisecond

	lockSuffix    = ".lock"
	corruptSuffix = ".corrupt"
	recordPerm    = 0o644
	dirPerm       = 0o755
)

// Options configures a Registry.
type Options struct {
	// Name identifies the registry in logs and in a Set (e.g. "ssh").
	Name string

	// Path is the location of the JSON record. Required.
	Path string

	// BasePort is the exclusive lower bound of assigned ports. The first
	// user receives BasePort+1.
	BasePort int

	// LockTimeout bounds lock acquisition. Zero or negative selects
	// DefaultLockTimeout.
	LockTimeout time.Duration

	// RetryDelay is the lock polling interval. Zero or negative selects
	// DefaultRetryDelay.
	RetryDelay time.Duration

	// Logger receives diagnostics. Nil selects the process root logger.
	Logger *zerolog.Logger
}

// Registry is a persistent user → port mapping backed by a single record
// file. A Registry holds no mapping in memory; every call re-reads the
// record, so any number of Registry values and processes may share a path.
type Registry struct {
	name        string
	path        string
	lockPath    string
	basePort    int
	lockTimeout time.Duration
	retryDelay  time.Duration
	log         zerolog.Logger

	// writeFile replaces the record atomically.
	writeFile func(filename string, data []byte, perm os.FileMode) error
}

// New validates opts and returns a Registry. It does not touch the file
// system; the record and its directory are created on first allocation.
func New(opts Options) (*Registry, error) {
	if opts.Path == "" {
		return nil, errors.New("registry path must not be empty")
	}
	if opts.BasePort < 0 || opts.BasePort >= maxPort {
		return nil, fmt.Errorf("base port %d out of range [0, %d]", opts.BasePort, maxPort-1)
	}

	name := opts.Name
	if name == "" {
		name = filepath.Base(opts.Path)
	}

	r := &Registry{
		name:        name,
		path:        opts.Path,
		lockPath:    opts.Path + lockSuffix,
		basePort:    opts.BasePort,
		lockTimeout: opts.LockTimeout,
		retryDelay:  opts.RetryDelay,
		writeFile:   atomicwriter.WriteFile,
	}
	if r.lockTimeout <= 0 {
		r.lockTimeout = DefaultLockTimeout
	}
	if r.retryDelay <= 0 {
		r.retryDelay = DefaultRetryDelay
	}

	log := logging.For("registry")
	if opts.Logger != nil {
		log = *opts.Logger
	}
	r.log = log.With().Str("registry", name).Logger()

	return r, nil
}

// Name returns the registry name.
func (r *Registry) Name() string { return r.name }

// Path returns the record location.
func (r *Registry) Path() string { return r.path }

// BasePort returns the exclusive lower bound of assigned ports.
func (r *Registry) BasePort() int { return r.basePort }

// Allocate returns the port assigned to user, assigning basePort+k+1 on
// first use (k = current number of entries) and persisting the mapping
// before returning.
//
// The fast path takes only a shared lock and never writes. When user is
// absent, the record is re-read under the exclusive lock, so the candidate
// port is computed and persisted inside one critical section.
func (r *Registry) Allocate(ctx context.Context, user string) (int, error) {
	if err := validateUser(user); err != nil {
		return 0, err
	}

	rec, err := r.snapshot(ctx)
	if err != nil {
		return 0, err
	}
	if port, ok := rec.lookup(user); ok {
		return port, nil
	}

	return r.insert(ctx, user)
}

// Lookup reports the port assigned to user without assigning one.
func (r *Registry) Lookup(ctx context.Context, user string) (int, bool, error) {
	if err := validateUser(user); err != nil {
		return 0, false, err
	}

	rec, err := r.snapshot(ctx)
	if err != nil {
		return 0, false, err
	}
	port, ok := rec.lookup(user)
	return port, ok, nil
}

// validateUser rejects identifiers that would not survive a round trip
// through the record: JSON encoding replaces invalid UTF-8 with U+FFFD.
func validateUser(user string) error {
	switch {
	case user == "":
		return fmt.Errorf("%w: empty", ErrInvalidUser)
	case !utf8.ValidString(user):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidUser, user)
	}
	return nil
}

// Entries returns every assignment in assignment order.
func (r *Registry) Entries(ctx context.Context) ([]model.PortAssignment, error) {
	rec, err := r.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return rec.assignments(), nil
}

// snapshot reads the record under the shared lock. A missing record is an
// empty registry and needs no lock. If the lock file cannot be opened at
// all (e.g. a read-only state directory) the record is read unlocked, which
// is safe because writers only ever rename a complete file into place.
func (r *Registry) snapshot(ctx context.Context) (*record, error) {
	if _, err := os.Stat(r.path); errors.Is(err, fs.ErrNotExist) {
		return newRecord(), nil
	}

	lock, err := acquireLock(ctx, r.lockPath, true, r.lockTimeout, r.retryDelay)
	if err != nil {
		var lfe *lockFileError
		if !errors.As(err, &lfe) {
			return nil, err
		}
		r.log.Debug().Err(err).Msg("reading record without lock")
		rec, _ := r.read()
		return rec, nil
	}
	defer r.release(lock)

	rec, _ := r.read()
	return rec, nil
}

// read loads and decodes the record. It never fails: absent, unreadable and
// corrupt records all yield an empty record. The raw bytes are returned when
// the content was present but unparsable so the caller can preserve them.
func (r *Registry) read() (*record, []byte) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			r.log.Warn().Err(err).Str("path", r.path).Msg("registry record unreadable, treating as empty")
		}
		return newRecord(), nil
	}

	rec, err := decodeRecord(data)
	if err != nil {
		r.log.Warn().Err(err).Str("path", r.path).Msg("registry record corrupt, treating as empty")
		return newRecord(), data
	}
	return rec, nil
}

// insert is the slow path: check-then-insert under the exclusive lock.
func (r *Registry) insert(ctx context.Context, user string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(r.path), dirPerm); err != nil {
		return 0, fmt.Errorf("%w: create directory for %s: %w", ErrPersistence, r.path, err)
	}

	lock, err := acquireLock(ctx, r.lockPath, false, r.lockTimeout, r.retryDelay)
	if err != nil {
		var lfe *lockFileError
		if errors.As(err, &lfe) {
			return 0, fmt.Errorf("%w: %w", ErrPersistence, err)
		}
		return 0, err
	}
	defer r.release(lock)

	rec, corrupt := r.read()
	if port, ok := rec.lookup(user); ok {
		// Another writer assigned this user between our snapshot and the
		// exclusive lock.
		return port, nil
	}

	port := r.basePort + rec.len() + 1
	if rec.portInUse(port) {
		// Only possible with a hand-edited record. Skip past every port
		// already handed out.
		next := max(rec.maxPort(), port) + 1
		r.log.Warn().Int("candidate", port).Int("port", next).Msg("candidate port already assigned, skipping ahead")
		port = next
	}
	if port > maxPort {
		return 0, fmt.Errorf("%w: %s would assign %d", ErrRangeExhausted, r.name, port)
	}

	if len(corrupt) > 0 {
		r.moveAside(corrupt)
	}

	rec.set(user, port)
	if err := r.writeFile(r.path, rec.encode(), recordPerm); err != nil {
		return 0, fmt.Errorf("%w: write %s: %w", ErrPersistence, r.path, err)
	}

	r.log.Info().Str("user", user).Int("port", port).Msg("assigned port")
	return port, nil
}

// moveAside keeps a copy of unparsable record content next to the record
// before it is replaced. Failure is logged and otherwise ignored; the
// allocation still proceeds.
func (r *Registry) moveAside(data []byte) {
	dst := r.path + corruptSuffix
	if err := atomicwriter.WriteFile(dst, data, recordPerm); err != nil {
		r.log.Warn().Err(err).Str("path", dst).Msg("could not preserve corrupt record")
		return
	}
	r.log.Warn().Str("path", dst).Msg("corrupt record preserved")
}

func (r *Registry) release(lock *heldLock) {
	if err := lock.release(); err != nil {
		r.log.Warn().Err(err).Str("lock", r.lockPath).Msg("failed to release registry lock")
	}
}

// Allocate is a one-shot helper for callers that do not keep a Registry:
// it allocates user in the record at path with the given base port and
// default lock settings.
func Allocate(ctx context.Context, user, path string, basePort int) (int, error) {
	r, err := New(Options{Path: path, BasePort: basePort})
	if err != nil {
		return 0, err
	}
	return r.Allocate(ctx, user)
}
