package commands

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/vsi-examples/vsistream/pkg/cli"
	"github.com/vsi-examples/vsistream/pkg/kv"
)

func setupTestEnv(t *testing.T) (string, func()) {
	t.Helper()
	dir := t.TempDir()
	old := os.Getenv(cli.ConfigDirEnv)
	os.Setenv(cli.ConfigDirEnv, dir)
	return dir, func() {
		if old == "" {
			os.Unsetenv(cli.ConfigDirEnv)
		} else {
			os.Setenv(cli.ConfigDirEnv, old)
		}
	}
}

// setupTestEnvWithKV sets up a test env with a shared memory history.
func setupTestEnvWithKV(t *testing.T) (string, func()) {
	t.Helper()
	dir, cleanup := setupTestEnv(t)
	testKVOverride = kv.NewMemory()
	return dir, func() {
		testKVOverride = nil
		cleanup()
	}
}

func runCmd(t *testing.T, args ...string) (stdout, stderr string, exitCode int) {
	t.Helper()

	oldStdout := os.Stdout
	oldStderr := os.Stderr

	rOut, wOut, _ := os.Pipe()
	rErr, wErr, _ := os.Pipe()
	os.Stdout = wOut
	os.Stderr = wErr

	verbose = false
	formatOutput = "table"
	outputFile = ""

	// Drain the pipes while the command runs so large output cannot block.
	var outBuf, errBuf bytes.Buffer
	done := make(chan struct{}, 2)
	go func() { outBuf.ReadFrom(rOut); done <- struct{}{} }()
	go func() { errBuf.ReadFrom(rErr); done <- struct{}{} }()

	rootCmd.SetArgs(args)
	err := rootCmd.Execute()

	wOut.Close()
	wErr.Close()
	<-done
	<-done
	os.Stdout = oldStdout
	os.Stderr = oldStderr

	stdout = outBuf.String()
	stderr = errBuf.String()
	if err != nil {
		exitCode = 1
		if stderr == "" {
			stderr = err.Error()
		}
	}

	resetFlags(rootCmd)
	return
}

func resetFlags(cmd *cobra.Command) {
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		f.Changed = false
		f.Value.Set(f.DefValue)
	})
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// writeTestFile writes a file to a temp dir and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}
