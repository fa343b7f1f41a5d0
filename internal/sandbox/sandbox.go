// Package sandbox executes untrusted scraper scripts in subprocesses
// with hard caps on wall clock and output consumption.
package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"

	"scraper-worker-service/internal/entity"
)

var (
	// ErrTimeout marks a run killed for exceeding its wall-clock budget.
	ErrTimeout = errors.New("script execution timed out")
	// ErrNoRecords marks a clean exit that produced nothing parseable.
	ErrNoRecords = errors.New("script produced no records")
)

// commandFunc builds the interpreter invocation for a script file.
// Swappable so tests can drive the protocol with /bin/sh scripts.
type commandFunc func(kind entity.ScriptKind, scriptPath string, args ...string) *exec.Cmd

func defaultCommand(kind entity.ScriptKind, scriptPath string, args ...string) *exec.Cmd {
	switch kind {
	case entity.ScriptTypeScript:
		return exec.Command("npx", append([]string{"tsx", scriptPath}, args...)...)
	default:
		return exec.Command("python3", append([]string{scriptPath}, args...)...)
	}
}

func scriptFileName(kind entity.ScriptKind) string {
	if kind == entity.ScriptTypeScript {
		return "script.ts"
	}
	return "script.py"
}

// writeScript materializes the script in its own scratch directory.
// The caller removes the directory when the run is over.
func writeScript(dir, script string, kind entity.ScriptKind) (string, error) {
	path := filepath.Join(dir, scriptFileName(kind))
	if err := os.WriteFile(path, []byte(script), 0o600); err != nil {
		return "", fmt.Errorf("write script file: %w", err)
	}
	return path, nil
}

// startGroup starts the command as its own process group so a kill
// reaches any children the script spawned.
func startGroup(cmd *exec.Cmd) error {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd.Start()
}

func killGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

// Metadata is the script's self-description from the metadata
// pre-flight call.
type Metadata struct {
	Name              string   `json:"name"`
	Description       string   `json:"description"`
	RequiredLibraries []string `json:"required_libraries,omitempty"`
}

func defaultMetadata() Metadata {
	return Metadata{Name: "Unnamed scraper", Description: "No description provided"}
}

// scrapeContext is serialized into the --context argument of the
// scrape invocation.
type scrapeContext struct {
	IsTestRun  bool `json:"is_test_run"`
	MaxPages   int  `json:"max_pages,omitempty"`
	MaxRecords int  `json:"max_records,omitempty"`
}
