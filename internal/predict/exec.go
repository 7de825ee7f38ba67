package predict

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

// maxOutputInError bounds how much captured process output is embedded in
// error messages; the full output is always written to the log files.
const maxOutputInError = 500

type execResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Elapsed  time.Duration
}

// runCommand executes one external invocation with a hard timeout, capturing
// stdout/stderr both in memory and under logsDir/<logName>.{stdout,stderr}.
// A non-zero exit, a timeout, or a failure to start all return an error; the
// partial execResult is returned alongside for diagnostics.
func runCommand(ctx context.Context, timeout time.Duration, workDir, logsDir, logName string, argv []string, extraEnv []string) (execResult, error) {
	if len(argv) == 0 {
		return execResult{}, fmt.Errorf("empty command")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = workDir
	if len(extraEnv) > 0 {
		cmd.Env = append(os.Environ(), extraEnv...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	res := execResult{
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
		Elapsed: time.Since(start),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}

	writeLogs(logsDir, logName, res)

	if runErr != nil {
		if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
			return res, fmt.Errorf("timed out after %s", timeout)
		}
		return res, fmt.Errorf("%s failed (exit %d): %s", filepath.Base(argv[0]), res.ExitCode, tail(res.Stderr))
	}
	return res, nil
}

func writeLogs(logsDir, logName string, res execResult) {
	if logsDir == "" {
		return
	}
	if err := os.MkdirAll(logsDir, 0o755); err != nil {
		return
	}
	_ = os.WriteFile(filepath.Join(logsDir, logName+".stdout"), []byte(res.Stdout), 0o644)
	_ = os.WriteFile(filepath.Join(logsDir, logName+".stderr"), []byte(res.Stderr), 0o644)
}

// tail returns the last chunk of captured output, trimmed for error messages.
func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxOutputInError {
		s = "..." + s[len(s)-maxOutputInError:]
	}
	return s
}

// globOne returns the first match for pattern under dir, or "".
func globOne(dir, pattern string) string {
	matches, err := filepath.Glob(filepath.Join(dir, pattern))
	if err != nil || len(matches) == 0 {
		return ""
	}
	return matches[0]
}

// globRecursive walks dir collecting files whose base name matches pattern.
func globRecursive(dir, pattern string) []string {
	var matches []string
	_ = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil //nolint:nilerr // unreadable entries are simply skipped
		}
		if ok, _ := filepath.Match(pattern, d.Name()); ok {
			matches = append(matches, path)
		}
		return nil
	})
	return matches
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
