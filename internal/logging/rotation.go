package logging

import (
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// RotationConfig holds configuration for log rotation.
type RotationConfig struct {
	// MaxSizeMB is the size in megabytes at which the log file is rotated.
	// Zero disables rotation.
	MaxSizeMB int
	// MaxBackups is how many rotated files are kept next to the live log.
	MaxBackups int
	// Compress gzips rotated files.
	Compress bool
}

// DefaultRotationConfig returns the rotation settings used when the
// configuration does not override them.
func DefaultRotationConfig() RotationConfig {
	return RotationConfig{
		MaxSizeMB:  10,
		MaxBackups: 3,
	}
}

// RotatingFile is an io.WriteCloser over a log file that is moved aside to
// "<path>.1" once it would grow past the configured size. Older backups shift
// to "<path>.2" and so on; anything beyond MaxBackups is removed.
// It is safe for concurrent use.
type RotatingFile struct {
	mu   sync.Mutex
	path string
	cfg  RotationConfig
	max  int64
	file *os.File
	size int64
}

// OpenRotatingFile opens (or creates) the log file at path, creating parent
// directories as needed. Writes append to existing content.
func OpenRotatingFile(path string, cfg RotationConfig) (*RotatingFile, error) {
	rf := &RotatingFile{
		path: path,
		cfg:  cfg,
		max:  int64(cfg.MaxSizeMB) * 1024 * 1024,
	}
	if err := rf.open(); err != nil {
		return nil, err
	}
	return rf, nil
}

func (rf *RotatingFile) open() error {
	if err := os.MkdirAll(filepath.Dir(rf.path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}

	f, err := os.OpenFile(rf.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return fmt.Errorf("failed to stat log file: %w", err)
	}

	rf.file = f
	rf.size = info.Size()
	return nil
}

// Write implements io.Writer.
func (rf *RotatingFile) Write(p []byte) (int, error) {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return 0, fmt.Errorf("log file %s is closed", rf.path)
	}

	if rf.max > 0 && rf.size > 0 && rf.size+int64(len(p)) > rf.max {
		if err := rf.rotate(); err != nil {
			// Keep logging into whatever file is open rather than dropping the entry.
			fmt.Fprintf(os.Stderr, "Warning: log rotation failed: %v\n", err)
			if rf.file == nil {
				return 0, err
			}
		}
	}

	n, err := rf.file.Write(p)
	rf.size += int64(n)
	return n, err
}

// rotate must be called with rf.mu held.
func (rf *RotatingFile) rotate() error {
	if err := rf.file.Close(); err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	rf.file = nil

	rf.shiftBackups()

	if rf.cfg.MaxBackups > 0 {
		first := rf.backup(1)
		if err := os.Rename(rf.path, first); err != nil {
			if openErr := rf.open(); openErr != nil {
				return fmt.Errorf("failed to rename log file and reopen: %w", openErr)
			}
			return fmt.Errorf("failed to rename log file: %w", err)
		}
		if rf.cfg.Compress {
			if err := gzipFile(first); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to compress %s: %v\n", first, err)
			}
		}
	} else {
		_ = os.Remove(rf.path)
	}

	return rf.open()
}

// shiftBackups renames backup i to i+1, oldest first, dropping the last one.
func (rf *RotatingFile) shiftBackups() {
	n := rf.cfg.MaxBackups
	if n <= 0 {
		return
	}
	_ = os.Remove(rf.backup(n))
	_ = os.Remove(rf.backup(n) + ".gz")

	for i := n - 1; i >= 1; i-- {
		from, to := rf.backup(i), rf.backup(i+1)
		if _, err := os.Stat(from + ".gz"); err == nil {
			_ = os.Rename(from+".gz", to+".gz")
		} else if _, err := os.Stat(from); err == nil {
			_ = os.Rename(from, to)
		}
	}
}

func (rf *RotatingFile) backup(n int) string {
	return fmt.Sprintf("%s.%d", rf.path, n)
}

// gzipFile replaces path with path.gz. The original is only removed once the
// compressed copy has been fully written.
func gzipFile(path string) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	dst, err := os.Create(path + ".gz")
	if err != nil {
		return err
	}

	zw := gzip.NewWriter(dst)
	if _, err := io.Copy(zw, src); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := zw.Close(); err != nil {
		_ = dst.Close()
		_ = os.Remove(path + ".gz")
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}

// Size returns the current size of the live log file in bytes.
func (rf *RotatingFile) Size() int64 {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return rf.size
}

// Path returns the path of the live log file.
func (rf *RotatingFile) Path() string {
	return rf.path
}

// Close syncs and closes the live log file. Closing twice is a no-op.
func (rf *RotatingFile) Close() error {
	rf.mu.Lock()
	defer rf.mu.Unlock()

	if rf.file == nil {
		return nil
	}
	if err := rf.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync log file: %w", err)
	}
	err := rf.file.Close()
	rf.file = nil
	if err != nil {
		return fmt.Errorf("failed to close log file: %w", err)
	}
	return nil
}
