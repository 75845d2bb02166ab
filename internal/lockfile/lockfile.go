// Package lockfile keeps two ispbot processes from sharing one state
// directory. The flock is released by the kernel when the process exits.
package lockfile

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory.
const LockFileName = "ispbot.lock"

// ErrLocked is matched by errors.Is when another process holds the lock.
var ErrLocked = errors.New("state directory is locked by another process")

// Info is the owner information written into the lock file.
type Info struct {
	PID       int
	Hostname  string
	StartedAt time.Time
}

func (i Info) encode() string {
	return fmt.Sprintf("pid=%d\nhost=%s\nstarted_at=%s\n", i.PID, i.Hostname, i.StartedAt.UTC().Format(time.RFC3339))
}

func parseInfo(content string) Info {
	var info Info
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			info.PID, _ = strconv.Atoi(value)
		case "host":
			info.Hostname = value
		case "started_at":
			info.StartedAt, _ = time.Parse(time.RFC3339, value)
		}
	}
	return info
}

// Lock represents an acquired state directory lock.
type Lock struct {
	file *os.File
	path string
	info Info
}

// AcquireLock takes an exclusive lock on stateDir, creating it if needed.
// A *LockError is returned when another process holds the lock.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// Opened without O_TRUNC so a losing contender cannot wipe the owner's info.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}
	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		lerr := &LockError{LockPath: lockPath, ExistingInfo: describeExisting(lockPath), Cause: err}
		slog.Error("AcquireLock: state directory in use", "lock_path", lockPath, "existing", lerr.ExistingInfo)
		return nil, lerr
	}

	host, _ := os.Hostname()
	info := Info{PID: os.Getpid(), Hostname: host, StartedAt: time.Now()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("AcquireLock: state directory locked", "lock_path", lockPath, "pid", info.PID)
	return &Lock{file: file, path: lockPath, info: info}, nil
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.WriteAt([]byte(info.encode()), 0); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("writeInfo: sync failed", "error", err)
	}
	return nil
}

// Info returns the owner information written by this process.
func (l *Lock) Info() Info { return l.info }

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release unlocks and removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still holding the flock so a waiting process never sees
	// our file after acquiring its own.
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Lock.Release: failed to remove lock file", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("Lock.Release: failed to release flock", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Info("Lock.Release: state directory unlocked", "lock_path", l.path)
	if err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

// LockError reports that another process holds the state directory lock.
type LockError struct {
	LockPath     string
	ExistingInfo string
	Cause        error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another ispbot instance is using this state directory (lock file %s)", e.LockPath)
	if e.ExistingInfo != "" {
		fmt.Fprintf(&b, "; holder: %s", e.ExistingInfo)
	}
	fmt.Fprintf(&b, ". If no other instance is running, remove the stale lock with: rm %s", e.LockPath)
	return b.String()
}

func (e *LockError) Unwrap() error { return e.Cause }

func (e *LockError) Is(target error) bool { return target == ErrLocked }

// describeExisting summarizes the lock holder for error messages.
func describeExisting(lockPath string) string {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return "unable to read lock file information"
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return "lock file contains no process information"
	}
	info := parseInfo(string(data))
	if info.PID <= 0 {
		return fmt.Sprintf("unrecognized lock content %q", strings.TrimSpace(string(data)))
	}
	state := "running"
	if !isProcessRunning(info.PID) {
		state = "not running, stale lock"
	}
	desc := fmt.Sprintf("PID %d (%s)", info.PID, state)
	if info.Hostname != "" {
		desc += " on " + info.Hostname
	}
	if !info.StartedAt.IsZero() {
		desc += " since " + info.StartedAt.Format(time.RFC3339)
	}
	return desc
}

// isProcessRunning probes the PID with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
