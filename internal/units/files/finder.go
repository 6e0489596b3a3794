package files

import (
	"context"
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc/pool"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/logging"
)

const defaultParallelism = 4

// Entry is a file found by a Finder.
type Entry struct {
	// Root is the root the file was found under.
	Root string
	// Path is the file path, prefixed by Root.
	Path string
	Info fs.FileInfo
}

// FinderOption configures a Finder.
type FinderOption func(*Finder)

// WithParallelism bounds how many roots are walked at once.
func WithParallelism(n int) FinderOption {
	return func(f *Finder) { f.parallelism = n }
}

// WithPattern only reports files matching the glob pattern. A pattern
// without a slash is matched against the base name; one with a slash is
// matched against the slash-separated path below the root, where "**" also
// crosses directories.
func WithPattern(pattern string) FinderOption {
	return func(f *Finder) { f.pattern = pattern }
}

// WithSkipDirs skips directories with any of the given base names.
func WithSkipDirs(names ...string) FinderOption {
	return func(f *Finder) { f.skipDirs = append(f.skipDirs, names...) }
}

// WithFinderLogger sets the finder logger.
func WithFinderLogger(logger *logging.Logger) FinderOption {
	return func(f *Finder) { f.logger = logger }
}

// Finder walks several directory trees and reports the regular files in
// them.
type Finder struct {
	roots       []string
	parallelism int
	pattern     string
	matcher     glob.Glob
	matchPath   bool
	skipDirs    []string
	logger      *logging.Logger
}

// NewFinder creates a Finder over roots.
func NewFinder(roots []string, opts ...FinderOption) (*Finder, error) {
	if len(roots) == 0 {
		return nil, errors.NewValidationError("at least one root is required").WithField("roots")
	}

	f := &Finder{
		roots:       slices.Clone(roots),
		parallelism: defaultParallelism,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.parallelism < 1 {
		f.parallelism = 1
	}
	if f.pattern != "" {
		g, err := glob.Compile(f.pattern, '/')
		if err != nil {
			return nil, errors.NewValidationError("invalid pattern").
				WithField("pattern").
				WithValue(f.pattern).
				WithCause(err)
		}
		f.matcher = g
		f.matchPath = strings.Contains(f.pattern, "/")
	}
	if f.logger == nil {
		f.logger = logging.NopLogger()
	}
	return f, nil
}

// Find walks every root and calls emit for each matching regular file.
// Roots are walked concurrently, so emit may be called from several
// goroutines at once; files of one root are reported in lexical order.
//
// A root or directory that cannot be read is logged and skipped. An error
// from emit, or ctx being canceled, stops the walk and is returned.
func (f *Finder) Find(ctx context.Context, emit func(Entry) error) error {
	p := pool.New().
		WithMaxGoroutines(f.parallelism).
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError()

	for _, root := range f.roots {
		p.Go(func(ctx context.Context) error {
			return f.walk(ctx, root, emit)
		})
	}

	err := p.Wait()
	f.logger.Debug("find finished", "roots", len(f.roots), "error", err != nil)
	return err
}

func (f *Finder) walk(ctx context.Context, root string, emit func(Entry) error) error {
	log := f.logger.With("root", root)

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			log.Warn("skipping unreadable path", "path", path, "error", err.Error())
			if d == nil || d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != root && slices.Contains(f.skipDirs, d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !f.matches(root, path, d.Name()) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			// Removed since it was listed.
			return nil
		}
		return emit(Entry{Root: root, Path: path, Info: info})
	})
}

func (f *Finder) matches(root, path, name string) bool {
	if f.matcher == nil {
		return true
	}
	if !f.matchPath {
		return f.matcher.Match(name)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return f.matcher.Match(filepath.ToSlash(rel))
}
