// Package launcher starts a work's executable and reports the play session
// when it exits.
package launcher

import (
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"dlshelf/internal/library"
)

var (
	// ErrAlreadyRunning means the work is already launched.
	ErrAlreadyRunning = errors.New("work is already running")
	// ErrNoExecutable means no launchable file was found in the work dir.
	ErrNoExecutable = errors.New("no executable found")
)

// SessionSink receives the elapsed seconds when a launched work exits.
type SessionSink interface {
	RecordSession(id library.WorkID, seconds int64) error
}

// Launcher spawns work executables and tracks which works are running.
type Launcher struct {
	sink   SessionSink
	logger zerolog.Logger

	mu      sync.Mutex
	running map[library.WorkID]*exec.Cmd
}

func New(sink SessionSink, logger zerolog.Logger) *Launcher {
	return &Launcher{
		sink:    sink,
		logger:  logger,
		running: make(map[library.WorkID]*exec.Cmd),
	}
}

// IsRunning reports whether the work is currently launched.
func (l *Launcher) IsRunning(id library.WorkID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.running[id]
	return ok
}

// Launch finds the work's executable under root/<id> and starts it. The
// session is recorded when the process exits, even after a crash: whatever
// ran counts as play time.
func (l *Launcher) Launch(root string, id library.WorkID) error {
	l.mu.Lock()
	if _, ok := l.running[id]; ok {
		l.mu.Unlock()
		return ErrAlreadyRunning
	}
	l.mu.Unlock()

	workDir := filepath.Join(root, string(id))
	exe, err := findExecutable(workDir)
	if err != nil {
		return err
	}

	cmd := exec.Command(exe)
	cmd.Dir = filepath.Dir(exe)
	started := time.Now()

	if err := cmd.Start(); err != nil {
		return err
	}

	l.mu.Lock()
	l.running[id] = cmd
	l.mu.Unlock()

	l.logger.Info().Str("id", string(id)).Str("exe", exe).Msg("work launched")

	go func() {
		err := cmd.Wait()
		elapsed := int64(time.Since(started).Seconds())

		l.mu.Lock()
		delete(l.running, id)
		l.mu.Unlock()

		if err != nil {
			l.logger.Warn().Err(err).Str("id", string(id)).Msg("work exited with error")
		}
		if err := l.sink.RecordSession(id, elapsed); err != nil {
			l.logger.Error().Err(err).Str("id", string(id)).Msg("session record failed")
		}
	}()

	return nil
}

// findExecutable locates the file to launch inside a work directory. On
// macOS that is the binary inside the first .app bundle; elsewhere the
// first .exe, or the first regular file with an exec bit.
func findExecutable(workDir string) (string, error) {
	entries, err := os.ReadDir(workDir)
	if err != nil {
		return "", err
	}

	if runtime.GOOS == "darwin" {
		for _, entry := range entries {
			if entry.IsDir() && strings.HasSuffix(entry.Name(), ".app") {
				return appBundleBinary(filepath.Join(workDir, entry.Name()))
			}
		}
	}

	var fallback string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(workDir, entry.Name())
		if strings.HasSuffix(strings.ToLower(entry.Name()), ".exe") {
			return path, nil
		}
		if fallback == "" {
			if info, err := entry.Info(); err == nil && info.Mode()&0o111 != 0 {
				fallback = path
			}
		}
	}
	if fallback != "" {
		return fallback, nil
	}
	return "", ErrNoExecutable
}

func appBundleBinary(appDir string) (string, error) {
	macOSDir := filepath.Join(appDir, "Contents", "MacOS")
	entries, err := os.ReadDir(macOSDir)
	if err != nil {
		return "", ErrNoExecutable
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			return filepath.Join(macOSDir, entry.Name()), nil
		}
	}
	return "", ErrNoExecutable
}
