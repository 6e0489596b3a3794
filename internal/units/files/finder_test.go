package files

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddcyb/microbots/internal/errors"
	"github.com/oddcyb/microbots/internal/testutil"
)

type collector struct {
	mu    sync.Mutex
	paths []string
}

func (c *collector) emit(e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, e.Path)
	return nil
}

func (c *collector) sorted() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]string(nil), c.paths...)
	sort.Strings(out)
	return out
}

func TestNewFinder(t *testing.T) {
	tests := []struct {
		name    string
		roots   []string
		opts    []FinderOption
		wantErr bool
	}{
		{"single root", []string{"."}, nil, false},
		{"no roots", nil, nil, true},
		{"valid pattern", []string{"."}, []FinderOption{WithPattern("*.go")}, false},
		{"path pattern", []string{"."}, []FinderOption{WithPattern("pkg/**.go")}, false},
		{"invalid pattern", []string{"."}, []FinderOption{WithPattern("[")}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFinder(tt.roots, tt.opts...)
			if tt.wantErr {
				assert.ErrorIs(t, err, errors.ErrInvalidInput)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestFinder_MultipleRoots(t *testing.T) {
	a := testutil.SetupTree(t, map[string]string{"one.txt": "x", "sub/two.txt": "x"})
	b := testutil.SetupTree(t, map[string]string{"three.log": "x"})

	f, err := NewFinder([]string{a, b}, WithParallelism(2))
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, f.Find(context.Background(), c.emit))

	want := []string{
		filepath.Join(a, "one.txt"),
		filepath.Join(a, "sub", "two.txt"),
		filepath.Join(b, "three.log"),
	}
	sort.Strings(want)
	assert.Equal(t, want, c.sorted())
}

func TestFinder_EntryFields(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{"f.txt": "x"})

	f, err := NewFinder([]string{root})
	require.NoError(t, err)

	var got []Entry
	require.NoError(t, f.Find(context.Background(), func(e Entry) error {
		got = append(got, e)
		return nil
	}))

	require.Len(t, got, 1)
	assert.Equal(t, root, got[0].Root)
	assert.Equal(t, "f.txt", got[0].Info.Name())
	assert.EqualValues(t, 1, got[0].Info.Size())
}

func TestFinder_PatternAndSkipDirs(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{
		"keep.go":           "x",
		"drop.txt":          "x",
		"vendor/skipped.go": "x",
		"pkg/nested.go":     "x",
	})

	f, err := NewFinder([]string{root}, WithPattern("*.go"), WithSkipDirs("vendor"))
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, f.Find(context.Background(), c.emit))

	assert.Equal(t, []string{
		filepath.Join(root, "keep.go"),
		filepath.Join(root, "pkg", "nested.go"),
	}, c.sorted())
}

func TestFinder_PathPattern(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{
		"top.go":            "x",
		"pkg/a.go":          "x",
		"pkg/deep/b.go":     "x",
		"pkg/deep/c.txt":    "x",
		"other/pkg/skip.go": "x",
	})

	tests := []struct {
		pattern string
		want    []string
	}{
		{"pkg/**.go", []string{"pkg/a.go", "pkg/deep/b.go"}},
		{"pkg/*.go", []string{"pkg/a.go"}},
		{"**/skip.go", []string{"other/pkg/skip.go"}},
		{"*.{go,txt}", []string{"other/pkg/skip.go", "pkg/a.go", "pkg/deep/b.go", "pkg/deep/c.txt", "top.go"}},
	}

	for _, tt := range tests {
		t.Run(tt.pattern, func(t *testing.T) {
			f, err := NewFinder([]string{root}, WithPattern(tt.pattern))
			require.NoError(t, err)

			c := &collector{}
			require.NoError(t, f.Find(context.Background(), c.emit))

			want := make([]string, len(tt.want))
			for i, rel := range tt.want {
				want[i] = filepath.Join(root, filepath.FromSlash(rel))
			}
			assert.Equal(t, want, c.sorted())
		})
	}
}

func TestFinder_SkipsMissingRoot(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{"present.txt": "x"})

	f, err := NewFinder([]string{filepath.Join(root, "missing"), root})
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, f.Find(context.Background(), c.emit))
	assert.Equal(t, []string{filepath.Join(root, "present.txt")}, c.sorted())
}

func TestFinder_SkipsUnreadableDir(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("permissions are not enforced")
	}

	root := testutil.SetupTree(t, map[string]string{"ok.txt": "x", "locked/hidden.txt": "x"})
	locked := filepath.Join(root, "locked")
	require.NoError(t, os.Chmod(locked, 0o000))
	t.Cleanup(func() { _ = os.Chmod(locked, 0o755) })

	f, err := NewFinder([]string{root})
	require.NoError(t, err)

	c := &collector{}
	require.NoError(t, f.Find(context.Background(), c.emit))
	assert.Equal(t, []string{filepath.Join(root, "ok.txt")}, c.sorted())
}

func TestFinder_EmitErrorStops(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{"a": "x", "b": "x", "c": "x"})

	f, err := NewFinder([]string{root})
	require.NoError(t, err)

	stop := errors.New("enough")
	calls := 0
	err = f.Find(context.Background(), func(Entry) error {
		calls++
		return stop
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestFinder_Canceled(t *testing.T) {
	root := testutil.SetupTree(t, map[string]string{"a": "x"})

	f, err := NewFinder([]string{root})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = f.Find(ctx, func(Entry) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
