package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tinkerdev/tinker/agentloop"
	"github.com/tinkerdev/tinker/envtrack"
	"github.com/tinkerdev/tinker/llmclient"
	"github.com/tinkerdev/tinker/settings"
)

func newPromptCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "prompt [words...]",
		Short: "Start an agent session with an initial prompt",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSession(strings.Join(args, " "))
		},
	}
}

func runSession(initialPrompt string) error {
	dir, err := filepath.Abs(flagDir)
	if err != nil {
		return fmt.Errorf("resolve directory: %w", err)
	}

	manager := settings.NewManager(dir)
	if err := manager.Initialize(); err != nil {
		return err
	}

	logger, closeLog, err := newLogger(manager.Dir())
	if err != nil {
		return err
	}
	defer closeLog()

	env, err := buildEnvironment(manager, dir, logger)
	if err != nil {
		return err
	}

	if flagState != "" {
		if err := env.Restore(envtrack.Ref(flagState)); err != nil {
			return fmt.Errorf("restore state %q: %w", flagState, err)
		}
		logger.Info("restored snapshot", "ref", flagState)
	}

	client, model, provider, err := buildClient(manager)
	if err != nil {
		return err
	}

	config := agentloop.DefaultSessionConfig()
	config.Model = model
	config.Provider = provider

	session := agentloop.NewSession(client, env, dir, &config)
	defer session.Close()

	go renderEvents(session.Events(), logger)

	reader := bufio.NewReader(os.Stdin)
	if initialPrompt == "" {
		fmt.Print("prompt> ")
		initialPrompt, err = readLine(reader)
		if err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger.Info("session starting", "session_id", session.ID(), "dir", dir, "model", model)

	state, err := session.Run(ctx, agentloop.NewAgentState(llmclient.UserMessage(initialPrompt)), func() (string, error) {
		fmt.Print("> ")
		return readLine(reader)
	})
	if err != nil {
		logger.Error("session failed", "error", err)
		return err
	}

	logger.Info("session finished", "session_id", session.ID(), "snapshot", string(state.EnvSnapshotKey))
	if state.EnvSnapshotKey != envtrack.NoRef {
		fmt.Printf("\nSession snapshot: %s\n", state.EnvSnapshotKey)
	}
	return nil
}

// buildEnvironment selects the snapshot environment from settings. A
// directory outside any git repository is fatal when tracking is on;
// there is no silent downgrade to untracked operation.
func buildEnvironment(manager *settings.Manager, dir string, logger *slog.Logger) (envtrack.Environment, error) {
	tracking, err := manager.GitTrackingEnabled()
	if err != nil {
		return nil, err
	}
	if !tracking {
		logger.Debug("git tracking off, snapshots disabled")
		return envtrack.NewNoopEnvironment(), nil
	}

	env, err := envtrack.Open(dir)
	if err != nil {
		return nil, fmt.Errorf("git tracking is on but unavailable: %w", err)
	}
	return env, nil
}

func buildClient(manager *settings.Manager) (*llmclient.Client, string, string, error) {
	provider, err := manager.Get(settings.KeyProvider)
	if err != nil {
		return nil, "", "", err
	}
	model, err := manager.Get(settings.KeyModel)
	if err != nil {
		return nil, "", "", err
	}

	apiKey := settings.APIKey(provider)
	if apiKey == "" {
		return nil, "", "", fmt.Errorf("no API key for provider %q; set %s", provider, settings.APIKeyEnvVar)
	}

	adapter, err := llmclient.NewGollmAdapter(provider, apiKey, llmclient.WithModel(model))
	if err != nil {
		return nil, "", "", fmt.Errorf("configure provider %q: %w", provider, err)
	}
	return llmclient.NewClient(llmclient.WithProvider(provider, adapter)), model, provider, nil
}

// renderEvents prints the conversation to stdout and mirrors everything
// to the structured log.
func renderEvents(events <-chan agentloop.SessionEvent, logger *slog.Logger) {
	for event := range events {
		logger.Debug("session event", "kind", string(event.Kind), "data", event.Data)

		switch event.Kind {
		case agentloop.EventAgentText:
			if text, ok := event.Data["text"].(string); ok && text != "" {
				fmt.Printf("\n%s\n", text)
			}
		case agentloop.EventToolCallStart:
			if name, ok := event.Data["tool_name"].(string); ok {
				fmt.Printf("[tool] %s\n", name)
			}
		case agentloop.EventSnapshot:
			if ref, ok := event.Data["ref"].(string); ok && ref != "" {
				logger.Info("snapshot taken", "ref", ref)
			}
		case agentloop.EventLoopDetection:
			fmt.Println("[warning] repeated tool calls detected")
		case agentloop.EventError:
			if msg, ok := event.Data["error"].(string); ok {
				logger.Warn("session error event", "error", msg)
			}
		}
	}
}

func readLine(reader *bufio.Reader) (string, error) {
	line, err := reader.ReadString('\n')
	if err == io.EOF {
		if strings.TrimSpace(line) != "" {
			return strings.TrimSpace(line), nil
		}
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
