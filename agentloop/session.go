package agentloop

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"

	"github.com/tinkerdev/tinker/envtrack"
	"github.com/tinkerdev/tinker/llmclient"
)

// SessionConfig holds configuration for one session.
type SessionConfig struct {
	Model               string `json:"model"`
	Provider            string `json:"provider,omitempty"`
	MaxToolRounds       int    `json:"max_tool_rounds"` // per agent turn
	EnableLoopDetection bool   `json:"enable_loop_detection"`
	LoopDetectionWindow int    `json:"loop_detection_window"`
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxToolRounds:       200,
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

// UserInputFunc supplies the next user turn. Returning io.EOF ends the
// session cleanly.
type UserInputFunc func() (string, error)

// Session alternates agent turns and user turns against one sandbox
// directory, snapshotting the environment around each turn. Within a
// turn, tool calls execute synchronously and sequentially; no two tool
// calls run concurrently against the same sandbox.
type Session struct {
	id       string
	dir      string
	env      envtrack.Environment
	sandbox  *Sandbox
	registry *ToolRegistry
	client   *llmclient.Client
	emitter  *EventEmitter
	config   SessionConfig
}

// NewSession creates a session rooted at dir using the given environment
// and LLM client.
func NewSession(client *llmclient.Client, env envtrack.Environment, dir string, config *SessionConfig) *Session {
	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}

	sessionID := uuid.New().String()
	registry := NewToolRegistry()
	RegisterCoreTools(registry)

	return &Session{
		id:       sessionID,
		dir:      dir,
		env:      env,
		sandbox:  NewSandbox(),
		registry: registry,
		client:   client,
		emitter:  NewEventEmitter(sessionID, 256),
		config:   cfg,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Sandbox returns the session's sandbox.
func (s *Session) Sandbox() *Sandbox { return s.sandbox }

// Registry returns the session's tool registry.
func (s *Session) Registry() *ToolRegistry { return s.registry }

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent { return s.emitter.Events() }

// Close releases session resources.
func (s *Session) Close() {
	s.emitter.Close()
}

// Run drives the session until readInput reports io.EOF or an
// unrecoverable error occurs. The environment is activated for the whole
// run and a snapshot is taken around every turn, folded into the next
// state. A storage failure is fatal; there is no silent fallback to
// untracked operation mid-session.
func (s *Session) Run(ctx context.Context, state AgentState, readInput UserInputFunc) (AgentState, error) {
	pop := s.sandbox.Scope().Push(s.dir)
	defer pop()

	if err := s.env.Begin(s.id); err != nil {
		return state, fmt.Errorf("activate environment: %w", err)
	}
	defer s.env.End()

	s.emitter.Emit(EventSessionStart, map[string]interface{}{"directory": s.dir})
	defer s.emitter.Emit(EventSessionEnd, nil)

	state, err := s.snapshot(ctx, state)
	if err != nil {
		return state, err
	}

	for {
		state, err = s.agentTurn(ctx, state)
		if err != nil {
			return state, err
		}
		state, err = s.snapshot(ctx, state)
		if err != nil {
			return state, err
		}

		input, err := readInput()
		if errors.Is(err, io.EOF) {
			return state, nil
		}
		if err != nil {
			return state, fmt.Errorf("read user input: %w", err)
		}
		s.emitter.Emit(EventUserInput, map[string]interface{}{"content": input})

		state = state.WithMessages(llmclient.UserMessage(input))
		state, err = s.snapshot(ctx, state)
		if err != nil {
			return state, err
		}
	}
}

// snapshot labels and records the current environment state, folding the
// new ref into a fresh AgentState.
func (s *Session) snapshot(ctx context.Context, state AgentState) (AgentState, error) {
	msg := CommitMessage(ctx, s.client, s.config.Model, state.History)
	ref, err := s.env.MakeSnapshot(msg)
	if err != nil {
		s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
		return state, fmt.Errorf("snapshot environment: %w", err)
	}
	s.emitter.Emit(EventSnapshot, map[string]interface{}{"ref": string(ref), "message": msg})
	return state.WithSnapshot(ref), nil
}

// agentTurn runs model rounds, executing tool calls between them, until
// the model responds with no tool call or the round limit is reached.
func (s *Session) agentTurn(ctx context.Context, state AgentState) (AgentState, error) {
	rounds := 0

	for {
		select {
		case <-ctx.Done():
			return state, ctx.Err()
		default:
		}

		systemPrompt := BuildSystemPrompt(s.sandbox, s.registry, s.config.Model)
		request := llmclient.Request{
			Model:      s.config.Model,
			Provider:   s.config.Provider,
			Messages:   append([]llmclient.Message{llmclient.SystemMessage(systemPrompt)}, state.History...),
			ToolDefs:   s.registry.Definitions(),
			ToolChoice: &llmclient.ToolChoice{Mode: "auto"},
		}

		response, err := s.client.Complete(ctx, request)
		if err != nil {
			s.emitter.Emit(EventError, map[string]interface{}{"error": err.Error()})
			return state, fmt.Errorf("model call: %w", err)
		}

		state = state.WithMessages(response.Message)
		s.emitter.Emit(EventAgentText, map[string]interface{}{"text": response.Text()})

		toolCalls := response.Message.ToolCalls()
		if len(toolCalls) == 0 {
			return state, nil
		}

		rounds++
		if rounds > s.config.MaxToolRounds {
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": fmt.Sprintf("tool round limit (%d) reached", s.config.MaxToolRounds),
			})
			return state, nil
		}

		state = s.executeToolCalls(ctx, state, toolCalls)

		if s.config.EnableLoopDetection && DetectLoop(state.History, s.config.LoopDetectionWindow) {
			warning := fmt.Sprintf("Loop detected: the last %d tool calls follow a repeating pattern. Try a different approach.", s.config.LoopDetectionWindow)
			state = state.WithMessages(llmclient.UserMessage(warning))
			s.emitter.Emit(EventLoopDetection, map[string]interface{}{"message": warning})
		}
	}
}

// executeToolCalls dispatches tool calls sequentially, appending one
// tool result message per call plus one user message per structured
// attachment.
func (s *Session) executeToolCalls(ctx context.Context, state AgentState, toolCalls []llmclient.ToolCallData) AgentState {
	for _, call := range toolCalls {
		output, err := s.executeSingleTool(ctx, call)
		if err != nil {
			// Tool errors are surfaced conversationally, never as
			// process failures.
			state = state.WithMessages(llmclient.ToolResultMessage(call.ID, fmt.Sprintf("Tool error (%s): %v", call.Name, err), true))
			continue
		}
		state = state.WithMessages(llmclient.ToolResultMessage(call.ID, output.Text, false))
		if output.Attachment != nil {
			state = state.WithMessages(llmclient.Message{
				Role:    llmclient.RoleUser,
				Content: []llmclient.ContentPart{*output.Attachment},
			})
		}
	}
	return state
}

func (s *Session) executeSingleTool(ctx context.Context, call llmclient.ToolCallData) (ToolOutput, error) {
	s.emitter.Emit(EventToolCallStart, map[string]interface{}{
		"tool_name": call.Name,
		"call_id":   call.ID,
	})

	registered := s.registry.Get(call.Name)
	if registered == nil {
		err := &ValidationError{Message: fmt.Sprintf("unknown tool: %s", call.Name)}
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{"call_id": call.ID, "error": err.Error()})
		return ToolOutput{}, err
	}

	output, err := registered.Executor(ctx, call.Arguments, s.sandbox)
	if err != nil {
		s.emitter.Emit(EventToolCallEnd, map[string]interface{}{"call_id": call.ID, "error": err.Error()})
		return ToolOutput{}, err
	}

	s.emitter.Emit(EventToolCallEnd, map[string]interface{}{"call_id": call.ID, "output": output.Text})
	return output, nil
}
