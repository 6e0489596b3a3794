package command

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/oddcyb/microbots/internal/errors"
)

func requireShell(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests rely on /bin/sh")
	}
}

func sh(t *testing.T, script string, opts ...Option) *Command {
	t.Helper()
	c, err := New([]string{"sh", "-c", script}, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"program only", []string{"true"}, false},
		{"program with args", []string{"echo", "a", "b"}, false},
		{"nil", nil, true},
		{"empty program", []string{""}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(tt.args)
			if tt.wantErr {
				if !errors.Is(err, errors.ErrInvalidInput) {
					t.Errorf("New() error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New() error = %v", err)
			}
			if got := c.String(); got != strings.Join(tt.args, " ") {
				t.Errorf("String() = %q", got)
			}
		})
	}
}

func TestNew_CopiesArgs(t *testing.T) {
	args := []string{"echo", "a"}
	c, err := New(args)
	if err != nil {
		t.Fatal(err)
	}
	args[1] = "changed"

	if got := c.Args()[1]; got != "a" {
		t.Errorf("Args()[1] = %q, want a", got)
	}
}

func TestEnviron(t *testing.T) {
	t.Setenv("MICROBOTS_TEST_INHERITED", "parent")

	t.Run("explicit only", func(t *testing.T) {
		c, _ := New([]string{"env"}, WithEnv("B", "2"), WithEnv("A", "1"))
		env := c.Environ()
		if len(env) != 2 || env[0] != "A=1" || env[1] != "B=2" {
			t.Errorf("Environ() = %v, want [A=1 B=2]", env)
		}
	})

	t.Run("inherited", func(t *testing.T) {
		c, _ := New([]string{"env"}, InheritEnv())
		found := false
		for _, kv := range c.Environ() {
			if kv == "MICROBOTS_TEST_INHERITED=parent" {
				found = true
			}
		}
		if !found {
			t.Error("inherited variable missing from Environ()")
		}
	})

	t.Run("explicit overrides inherited", func(t *testing.T) {
		c, _ := New([]string{"env"}, InheritEnv(), WithEnv("MICROBOTS_TEST_INHERITED", "child"))
		for _, kv := range c.Environ() {
			if kv == "MICROBOTS_TEST_INHERITED=parent" {
				t.Error("explicit value did not override inherited one")
			}
		}
	})
}

func TestOutput(t *testing.T) {
	requireShell(t)

	c := sh(t, `echo "$GREETING"; echo oops >&2`, WithEnv("GREETING", "hello"))
	res, err := c.Output(context.Background())
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if got := strings.TrimSpace(string(res.Stdout)); got != "hello" {
		t.Errorf("Stdout = %q, want hello", got)
	}
	if got := strings.TrimSpace(string(res.Stderr)); got != "oops" {
		t.Errorf("Stderr = %q, want oops", got)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestOutput_Dir(t *testing.T) {
	requireShell(t)

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "marker"), nil, 0o644); err != nil {
		t.Fatal(err)
	}

	res, err := sh(t, "ls", WithDir(dir)).Output(context.Background())
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if !strings.Contains(string(res.Stdout), "marker") {
		t.Errorf("Stdout = %q, want it to list marker", res.Stdout)
	}
}

func TestOutput_Stdin(t *testing.T) {
	requireShell(t)

	res, err := sh(t, "cat", WithStdin(strings.NewReader("piped"))).Output(context.Background())
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if string(res.Stdout) != "piped" {
		t.Errorf("Stdout = %q, want piped", res.Stdout)
	}
}

func TestRun_NonZeroExit(t *testing.T) {
	requireShell(t)

	err := sh(t, "echo nope >&2; exit 3").Run(context.Background())

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("Run() error = %v, want *ExitError", err)
	}
	if exitErr.Code != 3 {
		t.Errorf("Code = %d, want 3", exitErr.Code)
	}
	if !strings.Contains(exitErr.Error(), "exited with code 3: nope") {
		t.Errorf("Error() = %q", exitErr.Error())
	}
}

func TestRun_MissingProgram(t *testing.T) {
	c, _ := New([]string{"microbots-no-such-program"})
	err := c.Run(context.Background())
	if err == nil {
		t.Fatal("Run() should fail for a missing program")
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		t.Error("a missing program is not an exit status")
	}
}

func TestRun_Canceled(t *testing.T) {
	requireShell(t)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := sh(t, "exec sleep 5").Run(ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Run() error = %v, want context.DeadlineExceeded", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Error("Run() did not stop the process on cancellation")
	}
}
