package agentloop

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/tinkerdev/tinker/envtrack"
	"github.com/tinkerdev/tinker/llmclient"
)

// scriptedAdapter replays canned agent responses in order. Requests
// without tool definitions are snapshot label requests and get a static
// label.
type scriptedAdapter struct {
	responses []llmclient.Message
	next      int
}

func (a *scriptedAdapter) Name() string { return "scripted" }

func (a *scriptedAdapter) Complete(_ context.Context, req llmclient.Request) (*llmclient.Response, error) {
	if len(req.ToolDefs) == 0 {
		return &llmclient.Response{Message: llmclient.AssistantMessage("scripted label")}, nil
	}
	if a.next >= len(a.responses) {
		return &llmclient.Response{Message: llmclient.AssistantMessage("nothing left to do")}, nil
	}
	msg := a.responses[a.next]
	a.next++
	return &llmclient.Response{Message: msg}, nil
}

func scriptedClient(responses ...llmclient.Message) *llmclient.Client {
	return llmclient.NewClient(llmclient.WithProvider("scripted", &scriptedAdapter{responses: responses}))
}

func endAfterFirstTurn() UserInputFunc {
	return func() (string, error) { return "", io.EOF }
}

func TestSessionRunExecutesToolCalls(t *testing.T) {
	dir := t.TempDir()
	client := scriptedClient(
		assistantToolCall("call-1", "write_to_file", `{"path":"hello.txt","content":"hi\n"}`),
		llmclient.AssistantMessage("wrote the file"),
	)

	session := NewSession(client, envtrack.NewNoopEnvironment(), dir, nil)
	defer session.Close()

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("create hello.txt")), endAfterFirstTurn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "hello.txt"))
	if err != nil {
		t.Fatalf("tool call did not write the file: %v", err)
	}
	if string(data) != "hi\n" {
		t.Errorf("file content %q", data)
	}
	if got := state.LastAssistantText(); got != "wrote the file" {
		t.Errorf("last assistant text %q", got)
	}
}

func TestSessionRunAppendsToolResults(t *testing.T) {
	dir := t.TempDir()
	client := scriptedClient(
		assistantToolCall("call-1", "run_command", `{"command":"exit 7"}`),
		llmclient.AssistantMessage("done"),
	)

	session := NewSession(client, envtrack.NewNoopEnvironment(), dir, nil)
	defer session.Close()

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("run it")), endAfterFirstTurn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	var result *llmclient.ToolResultData
	for _, msg := range state.History {
		for _, part := range msg.Content {
			if part.Kind == llmclient.ContentToolResult {
				result = part.ToolResult
			}
		}
	}
	if result == nil {
		t.Fatal("no tool result message in history")
	}
	if result.ToolCallID != "call-1" {
		t.Errorf("tool result call ID %q", result.ToolCallID)
	}
	if !strings.HasPrefix(result.Content, "Exit code: 7") {
		t.Errorf("tool result content %q", result.Content)
	}
	if result.IsError {
		t.Error("non-zero exit is data, not a tool error")
	}
}

func TestSessionRunSurfacesToolErrors(t *testing.T) {
	dir := t.TempDir()
	client := scriptedClient(
		assistantToolCall("call-1", "no_such_tool", `{}`),
		llmclient.AssistantMessage("ok"),
	)

	session := NewSession(client, envtrack.NewNoopEnvironment(), dir, nil)
	defer session.Close()

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("go")), endAfterFirstTurn())
	if err != nil {
		t.Fatalf("tool failure must not abort the session: %v", err)
	}

	found := false
	for _, msg := range state.History {
		for _, part := range msg.Content {
			if part.Kind == llmclient.ContentToolResult && part.ToolResult.IsError {
				found = true
				if !strings.Contains(part.ToolResult.Content, "no_such_tool") {
					t.Errorf("error result content %q", part.ToolResult.Content)
				}
			}
		}
	}
	if !found {
		t.Error("unknown tool must produce an error tool result")
	}
}

func TestSessionRunFoldsAttachments(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "pic.png"), []byte("\x89PNG fake"), 0o644); err != nil {
		t.Fatal(err)
	}
	client := scriptedClient(
		assistantToolCall("call-1", "view_image", `{"path":"pic.png"}`),
		llmclient.AssistantMessage("looked at it"),
	)

	session := NewSession(client, envtrack.NewNoopEnvironment(), dir, nil)
	defer session.Close()

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("view the image")), endAfterFirstTurn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	found := false
	for _, msg := range state.History {
		if msg.Role != llmclient.RoleUser {
			continue
		}
		for _, part := range msg.Content {
			if part.Kind == llmclient.ContentImage {
				found = true
				if !strings.HasPrefix(part.Image.URL, "data:image/png;base64,") {
					t.Errorf("attachment URL %q", part.Image.URL)
				}
			}
		}
	}
	if !found {
		t.Error("image attachment must be folded into a user message")
	}
}

func TestSessionRunMultipleTurns(t *testing.T) {
	dir := t.TempDir()
	client := scriptedClient(
		llmclient.AssistantMessage("first answer"),
		llmclient.AssistantMessage("second answer"),
	)

	session := NewSession(client, envtrack.NewNoopEnvironment(), dir, nil)
	defer session.Close()

	inputs := []string{"and another thing"}
	readInput := func() (string, error) {
		if len(inputs) == 0 {
			return "", io.EOF
		}
		next := inputs[0]
		inputs = inputs[1:]
		return next, nil
	}

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("hello")), readInput)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := state.LastAssistantText(); got != "second answer" {
		t.Errorf("last assistant text %q", got)
	}

	// user, assistant, user, assistant
	if len(state.History) != 4 {
		t.Errorf("history has %d messages, want 4", len(state.History))
	}
}

func TestSessionRunSnapshotsTurns(t *testing.T) {
	dir := t.TempDir()
	client := scriptedClient(llmclient.AssistantMessage("hi"))

	env := &recordingEnvironment{}
	session := NewSession(client, env, dir, nil)
	defer session.Close()

	state, err := session.Run(context.Background(), NewAgentState(llmclient.UserMessage("hello")), endAfterFirstTurn())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// Initial snapshot plus one after the agent turn.
	if env.snapshots != 2 {
		t.Errorf("took %d snapshots, want 2", env.snapshots)
	}
	if env.session == "" {
		t.Error("environment never activated")
	}
	if !env.ended {
		t.Error("environment never deactivated")
	}
	if state.EnvSnapshotKey == envtrack.NoRef {
		t.Error("final state has no snapshot ref")
	}
}

// recordingEnvironment counts snapshot activity for session tests.
type recordingEnvironment struct {
	session   string
	snapshots int
	ended     bool
}

func (e *recordingEnvironment) Begin(sessionID string) error {
	e.session = sessionID
	return nil
}

func (e *recordingEnvironment) End() error {
	e.ended = true
	return nil
}

func (e *recordingEnvironment) MakeSnapshot(string) (envtrack.Ref, error) {
	e.snapshots++
	return envtrack.Ref(e.session + "/snap" + string(rune('0'+e.snapshots))), nil
}

func (e *recordingEnvironment) Restore(envtrack.Ref) error { return nil }

func TestSessionHasUniqueID(t *testing.T) {
	client := scriptedClient()
	a := NewSession(client, envtrack.NewNoopEnvironment(), t.TempDir(), nil)
	b := NewSession(client, envtrack.NewNoopEnvironment(), t.TempDir(), nil)
	defer a.Close()
	defer b.Close()

	if a.ID() == "" || a.ID() == b.ID() {
		t.Errorf("session IDs must be unique and non-empty: %q, %q", a.ID(), b.ID())
	}
}

func TestBuildSystemPromptListsTools(t *testing.T) {
	reg := NewToolRegistry()
	RegisterCoreTools(reg)
	sb, dir := newTestSandbox(t)

	prompt := BuildSystemPrompt(sb, reg, "test-model")
	if !strings.Contains(prompt, dir) {
		t.Error("prompt must name the working directory")
	}
	for _, name := range coreToolNames {
		if !strings.Contains(prompt, "## "+name) {
			t.Errorf("prompt missing tool %q", name)
		}
	}
	if !strings.Contains(prompt, "test-model") {
		t.Error("prompt must name the model")
	}
}

func TestCommitMessageFallback(t *testing.T) {
	if got := CommitMessage(context.Background(), nil, "", nil); got != fallbackCommitMessage {
		t.Errorf("nil client: got %q", got)
	}

	failing := llmclient.NewClient(llmclient.WithProvider("scripted", &failingAdapter{}))
	history := []llmclient.Message{llmclient.UserMessage("hi")}
	if got := CommitMessage(context.Background(), failing, "", history); got != fallbackCommitMessage {
		t.Errorf("failing client: got %q", got)
	}
}

func TestCommitMessageUsesModelLabel(t *testing.T) {
	client := scriptedClient()
	history := []llmclient.Message{llmclient.UserMessage("add a feature")}
	if got := CommitMessage(context.Background(), client, "", history); got != "scripted label" {
		t.Errorf("got %q", got)
	}
}

type failingAdapter struct{}

func (a *failingAdapter) Name() string { return "failing" }

func (a *failingAdapter) Complete(context.Context, llmclient.Request) (*llmclient.Response, error) {
	return nil, &llmclient.AuthenticationError{ProviderError: llmclient.ProviderError{
		ClientError: llmclient.ClientError{Message: "boom"},
	}}
}

func TestEventEmitterDeliversAndDrops(t *testing.T) {
	emitter := NewEventEmitter("s1", 2)
	emitter.Emit(EventAgentText, map[string]interface{}{"text": "a"})
	emitter.Emit(EventAgentText, map[string]interface{}{"text": "b"})
	emitter.Emit(EventAgentText, map[string]interface{}{"text": "dropped"})
	emitter.Close()

	var got []SessionEvent
	for ev := range emitter.Events() {
		got = append(got, ev)
	}
	if len(got) != 2 {
		t.Fatalf("got %d events, want 2", len(got))
	}
	if got[0].SessionID != "s1" || got[0].Kind != EventAgentText {
		t.Errorf("event %+v", got[0])
	}

	// Emit after close must not panic.
	emitter.Emit(EventError, nil)
}

func TestTruncateBoundary(t *testing.T) {
	exact := strings.Repeat("a", LengthLimit)
	if Truncate(exact) != exact {
		t.Error("input at the limit must pass through")
	}
	over := exact + "b"
	got := Truncate(over)
	if !strings.HasSuffix(got, TruncationMarker) {
		t.Error("missing truncation marker")
	}
	if got[:LengthLimit] != exact {
		t.Error("truncated prefix altered")
	}
}
