package agentloop

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/tinkerdev/tinker/llmclient"
)

// ToolContext is a scoped binding of the current sandbox directory. Tool
// operations never receive the directory as an argument; they resolve
// relative paths through the context.
type ToolContext struct {
	Directory string
}

// ResolvePath joins a path onto the sandbox directory. Absolute paths
// pass through. Parent-directory traversal is not rejected; the sandbox
// scopes resolution, it does not confine it.
func (c *ToolContext) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Directory, path)
}

// ScopeStack holds the nested tool contexts of one session. Scopes nest
// with stack discipline: the innermost context shadows outer ones, and
// exiting a scope always restores the previous one. Each session owns
// its own stack, so concurrent sessions never observe each other's
// sandbox.
type ScopeStack struct {
	stack []*ToolContext
}

// NewScopeStack creates an empty scope stack.
func NewScopeStack() *ScopeStack {
	return &ScopeStack{}
}

// Push enters a scope bound to dir and returns the function that exits
// it. Callers defer the returned pop so the previous context is restored
// on every exit path, including errors.
func (s *ScopeStack) Push(dir string) func() {
	abs, err := filepath.Abs(dir)
	if err != nil {
		abs = dir
	}
	s.stack = append(s.stack, &ToolContext{Directory: abs})
	return func() {
		s.stack = s.stack[:len(s.stack)-1]
	}
}

// Current returns the innermost active context. With no explicit scope
// active, it resolves to the process's current directory.
func (s *ScopeStack) Current() *ToolContext {
	if len(s.stack) > 0 {
		return s.stack[len(s.stack)-1]
	}
	cwd, err := os.Getwd()
	if err != nil {
		cwd = "."
	}
	return &ToolContext{Directory: cwd}
}

// Sandbox executes the bounded tool operations against the directory
// bound by its scope stack.
type Sandbox struct {
	scope *ScopeStack
}

// NewSandbox creates a Sandbox with a fresh scope stack.
func NewSandbox() *Sandbox {
	return &Sandbox{scope: NewScopeStack()}
}

// Scope returns the sandbox's scope stack.
func (s *Sandbox) Scope() *ScopeStack {
	return s.scope
}

// ListFiles returns the entry names of a directory as a JSON array.
// Order is not guaranteed sorted.
func (s *Sandbox) ListFiles(directory string) (string, error) {
	full := s.scope.Current().ResolvePath(directory)
	entries, err := os.ReadDir(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: full, Err: err}
		}
		return "", fmt.Errorf("list_files: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	encoded, err := json.Marshal(names)
	if err != nil {
		return "", fmt.Errorf("list_files: %w", err)
	}
	return Truncate(string(encoded)), nil
}

// ReadFromFile returns the full text of a file, length-limited.
func (s *Sandbox) ReadFromFile(path string) (string, error) {
	full := s.scope.Current().ResolvePath(path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: full, Err: err}
		}
		return "", fmt.Errorf("read_from_file: %w", err)
	}
	return Truncate(string(data)), nil
}

// readLinesWindow is the maximum number of lines ReadLinesFromFile
// returns per call.
const readLinesWindow = 500

// ReadLinesFromFile returns up to 500 lines starting at startLine
// (1-indexed), each prefixed with its absolute line number.
func (s *Sandbox) ReadLinesFromFile(path string, startLine int) (string, error) {
	full := s.scope.Current().ResolvePath(path)
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", &NotFoundError{Path: full, Err: err}
		}
		return "", fmt.Errorf("read_lines_from_file: %w", err)
	}

	lines := splitKeepEnds(string(data))
	if startLine < 1 || startLine > len(lines) {
		return "", &RangeError{Path: full, StartLine: startLine, EndLine: startLine}
	}

	endLine := startLine + readLinesWindow
	if endLine > len(lines)+1 {
		endLine = len(lines) + 1
	}

	var sb strings.Builder
	for i := startLine - 1; i < endLine-1; i++ {
		fmt.Fprintf(&sb, "%d:%s", i+1, lines[i])
	}
	return sb.String(), nil
}

// WriteToFile overwrites a file with content, creating it if absent.
func (s *Sandbox) WriteToFile(path, content string) (string, error) {
	full := s.scope.Current().ResolvePath(path)
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write_to_file: %w", err)
	}
	return "File written successfully.", nil
}

// RunCommand runs command through a shell rooted at the sandbox
// directory. Stdout and stderr are captured separately, each
// independently length-limited, and the numeric exit code is always part
// of the result. A non-zero exit is reported as data, never as an error,
// so the caller can observe command failure without special control
// flow. No timeout is enforced at this layer.
func (s *Sandbox) RunCommand(ctx context.Context, command string) (string, error) {
	shell := "/bin/bash"
	shellArg := "-c"
	if runtime.GOOS == "windows" {
		shell = "cmd.exe"
		shellArg = "/c"
	}

	cmd := exec.CommandContext(ctx, shell, shellArg, command)
	cmd.Dir = s.scope.Current().Directory

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("run_command: %w", err)
		}
	}

	outText := Truncate(strings.TrimSpace(stdout.String()))
	errText := Truncate(strings.TrimSpace(stderr.String()))

	var sb strings.Builder
	fmt.Fprintf(&sb, "Exit code: %d\n", exitCode)
	if errText != "" {
		fmt.Fprintf(&sb, "STDERR\n%s\n", errText)
	}
	if outText != "" {
		fmt.Fprintf(&sb, "STDOUT\n%s\n", outText)
	}
	return sb.String(), nil
}

// ViewImage reads a .jpg, .jpeg, or .png file and returns an
// acknowledgement plus a structured image attachment for the next user
// message.
func (s *Sandbox) ViewImage(path string) (string, *llmclient.ContentPart, error) {
	full := s.scope.Current().ResolvePath(path)

	var mimeType string
	switch strings.ToLower(filepath.Ext(full)) {
	case ".jpg", ".jpeg":
		mimeType = "image/jpeg"
	case ".png":
		mimeType = "image/png"
	default:
		return "", nil, &ValidationError{Message: "Only .jpg, .jpeg, and .png files are supported."}
	}

	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil, &NotFoundError{Path: full, Err: err}
		}
		return "", nil, fmt.Errorf("view_image: %w", err)
	}

	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(data))
	part := llmclient.ImageURLPart(dataURL, "high")
	return fmt.Sprintf("Image %s displayed in next message.", full), &part, nil
}

// editBuffer is the number of context lines shown on each side of a
// replaced region.
const editBuffer = 5

// ReplaceLinesInFile replaces remove lines starting at startLine
// (1-indexed) with newLines. previousLines must match the current
// content of the addressed range exactly, or the edit fails with a
// ConflictError and the file is untouched: the file is never overwritten
// without proof the caller has seen its current content. On success the
// mutated region is returned with a five-line buffer on each side, each
// line numbered.
func (s *Sandbox) ReplaceLinesInFile(path string, startLine, removeLineCount int, previousLines, newLines string) (string, error) {
	full := s.scope.Current().ResolvePath(path)

	var lines []string
	if data, err := os.ReadFile(full); err == nil {
		lines = splitKeepEnds(string(data))
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("replace_lines_in_file: %w", err)
	}

	endLine := startLine + removeLineCount
	if startLine < 1 || endLine < startLine || startLine > len(lines)+1 {
		return "", &RangeError{Path: full, StartLine: startLine, EndLine: endLine}
	}

	// Optimistic concurrency check: the addressed range must equal the
	// caller's claimed prior view, line for line.
	hi := endLine - 1
	if hi > len(lines) {
		hi = len(lines)
	}
	current := lines[startLine-1 : hi]
	expected := normalizeLines(previousLines)
	if !equalLines(current, expected) {
		return "", &ConflictError{Path: full}
	}

	if !strings.HasSuffix(newLines, "\n") {
		newLines += "\n"
	}
	replacement := splitKeepEnds(newLines)

	mutated := make([]string, 0, len(lines)-len(current)+len(replacement))
	mutated = append(mutated, lines[:startLine-1]...)
	mutated = append(mutated, replacement...)
	mutated = append(mutated, lines[hi:]...)

	if err := os.WriteFile(full, []byte(strings.Join(mutated, "")), 0o644); err != nil {
		return "", fmt.Errorf("replace_lines_in_file: %w", err)
	}

	outputStart := startLine - 1 - editBuffer
	if outputStart < 0 {
		outputStart = 0
	}
	outputEnd := startLine - 1 + len(replacement) + editBuffer + 1
	if outputEnd > len(mutated) {
		outputEnd = len(mutated)
	}

	var sb strings.Builder
	for i := outputStart; i < outputEnd; i++ {
		fmt.Fprintf(&sb, "%d:%s", i+1, mutated[i])
	}
	return sb.String(), nil
}

// splitKeepEnds splits s into lines, each keeping its trailing newline.
// A final unterminated line is kept as-is.
func splitKeepEnds(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.SplitAfter(s, "\n")
	if parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// normalizeLines splits caller-supplied text into lines, each normalized
// to end with a newline.
func normalizeLines(s string) []string {
	if s == "" {
		return nil
	}
	raw := strings.Split(s, "\n")
	if raw[len(raw)-1] == "" {
		raw = raw[:len(raw)-1]
	}
	lines := make([]string, len(raw))
	for i, l := range raw {
		lines[i] = l + "\n"
	}
	return lines
}

func equalLines(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
