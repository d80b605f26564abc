package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	json "github.com/goccy/go-json"
)

// syncBuffer lets the test read output while the command still writes.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func writeTopology(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "topology.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write topology: %v", err)
	}
	return path
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		body      string
		format    string
		wantErr   bool
		wantValid bool
	}{
		"valid text": {
			body: "coordination: {count: 1}\nbrokers: {count: 2}\n",
		},
		"invalid text": {
			body:    "coordination: {count: -1}\n",
			wantErr: true,
		},
		"valid json": {
			body:      "coordination: {count: 1}\nbrokers: {count: 1}\n",
			format:    "json",
			wantValid: true,
		},
		"invalid json": {
			body:    "brokers: {external: \"nope\"}\n",
			format:  "json",
			wantErr: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			args := []string{"validate", writeTopology(t, tc.body)}
			if tc.format != "" {
				args = append(args, "--format", tc.format)
			}
			var out, errOut bytes.Buffer
			cmd := NewRootCommand()
			cmd.SetArgs(args)
			cmd.SetOut(&out)
			cmd.SetErr(&errOut)

			err := cmd.Execute()
			if (err != nil) != tc.wantErr {
				t.Fatalf("Execute() error = %v, wantErr %v", err, tc.wantErr)
			}
			if tc.format != "json" {
				return
			}
			var res ValidationResult
			if err := json.Unmarshal(out.Bytes(), &res); err != nil {
				t.Fatalf("decode %q: %v", out.String(), err)
			}
			if res.Valid != tc.wantValid {
				t.Errorf("Valid = %v, want %v", res.Valid, tc.wantValid)
			}
			if !res.Valid && res.Error == "" {
				t.Error("invalid result without an error message")
			}
		})
	}
}

func TestRootCommand_InvalidFormat(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"validate", "--format", "xml", "whatever.yaml"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil || !strings.Contains(err.Error(), "invalid format") {
		t.Fatalf("Execute() error = %v, want invalid format", err)
	}
}

func TestUpCommand(t *testing.T) {
	t.Parallel()

	path := writeTopology(t, "base_data_dir: "+t.TempDir()+"\n"+
		"coordination: {count: 1}\nbrokers: {count: 1}\nworkers: {count: 1}\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	out := &syncBuffer{}
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"up", path})
	cmd.SetOut(out)
	cmd.SetErr(&syncBuffer{})

	done := make(chan error, 1)
	go func() { done <- cmd.ExecuteContext(ctx) }()

	deadline := time.After(60 * time.Second)
	for !strings.Contains(out.String(), "CLUSTERENV_WORKERS") {
		select {
		case err := <-done:
			t.Fatalf("up exited early: %v", err)
		case <-deadline:
			t.Fatalf("no descriptors printed; output %q", out.String())
		case <-time.After(20 * time.Millisecond):
		}
	}

	for _, key := range []string{"CLUSTERENV_COORDINATION", "CLUSTERENV_BROKERS", "CLUSTERENV_WORKERS"} {
		if !strings.Contains(out.String(), "export "+key+"=\"127.0.0.1:") {
			t.Errorf("output %q lacks an export of %s", out.String(), key)
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("up returned %v after cancel", err)
		}
	case <-time.After(30 * time.Second):
		t.Fatal("up did not return after cancel")
	}
}

func TestUpCommand_MissingFile(t *testing.T) {
	t.Parallel()

	cmd := NewRootCommand()
	cmd.SetArgs([]string{"up", filepath.Join(t.TempDir(), "missing.yaml")})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	if err := cmd.Execute(); err == nil {
		t.Fatal("Execute() should fail for a missing topology")
	}
}
