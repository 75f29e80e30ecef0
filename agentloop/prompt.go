package agentloop

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tinkerdev/tinker/llmclient"
)

const basePrompt = `You are an expert software engineer working inside the user's project directory.
You accomplish tasks by calling tools: inspect files before editing them, prefer
replace_lines_in_file for targeted edits, and run commands to verify your work.
Tool output may be truncated; re-read specific ranges when you need more.`

// BuildSystemPrompt constructs the session system prompt from base
// instructions, the sandbox environment, and the registered tools.
func BuildSystemPrompt(sb *Sandbox, reg *ToolRegistry, model string) string {
	var b strings.Builder
	b.WriteString(basePrompt)
	b.WriteString("\n\n<environment>\n")
	fmt.Fprintf(&b, "Working directory: %s\n", sb.Scope().Current().Directory)
	fmt.Fprintf(&b, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&b, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if model != "" {
		fmt.Fprintf(&b, "Model: %s\n", model)
	}
	b.WriteString("</environment>\n\n# Available Tools\n\n")
	for _, def := range reg.Definitions() {
		fmt.Fprintf(&b, "## %s\n%s\n\n", def.Name, def.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// fallbackCommitMessage labels a snapshot when no better label can be
// generated.
const fallbackCommitMessage = "tinker session"

// CommitMessage asks the model for a one-line label summarizing the
// latest turn, used as the snapshot commit message. Any failure falls
// back to a static label; snapshot labeling never blocks the session.
func CommitMessage(ctx context.Context, client *llmclient.Client, model string, history []llmclient.Message) string {
	if client == nil || len(history) == 0 {
		return fallbackCommitMessage
	}

	var recent []llmclient.Message
	if len(history) > 4 {
		recent = history[len(history)-4:]
	} else {
		recent = history
	}

	messages := []llmclient.Message{
		llmclient.SystemMessage("Write a single short line, in the style of a git commit message, summarizing the conversation below. Reply with the line only."),
	}
	messages = append(messages, recent...)

	resp, err := client.Complete(ctx, llmclient.Request{
		Model:    model,
		Messages: messages,
	})
	if err != nil {
		return fallbackCommitMessage
	}

	line := strings.TrimSpace(resp.Text())
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}
	if line == "" {
		return fallbackCommitMessage
	}
	return line
}
