package upstream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// runTool executes one upstream tool invocation with a hard timeout, logging
// stdout/stderr under logsDir/<logName>.{stdout,stderr} and returning the
// captured stdout.
func runTool(ctx context.Context, timeout time.Duration, workDir, logsDir, logName string, argv []string) (string, error) {
	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	if logsDir != "" {
		if err := os.MkdirAll(logsDir, 0o755); err == nil {
			_ = os.WriteFile(filepath.Join(logsDir, logName+".stdout"), stdout.Bytes(), 0o644)
			_ = os.WriteFile(filepath.Join(logsDir, logName+".stderr"), stderr.Bytes(), 0o644)
		}
	}

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return stdout.String(), fmt.Errorf("timed out after %s", timeout)
		}
		exitCode := -1
		if cmd.ProcessState != nil {
			exitCode = cmd.ProcessState.ExitCode()
		}
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 500 {
			msg = "..." + msg[len(msg)-500:]
		}
		return stdout.String(), fmt.Errorf("%s failed (exit %d): %s", filepath.Base(argv[0]), exitCode, msg)
	}
	return stdout.String(), nil
}

// toolOnPath resolves a tool reference: path-like values must exist on disk,
// bare names are looked up on PATH.
func toolOnPath(ref string) bool {
	if ref == "" {
		return false
	}
	if strings.ContainsRune(ref, os.PathSeparator) {
		_, err := os.Stat(ref)
		return err == nil
	}
	_, err := exec.LookPath(ref)
	return err == nil
}
