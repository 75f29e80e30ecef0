// Package settings persists user configuration as a JSON file under the
// .tinker directory of the working tree.
package settings

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// SettingsDirName is the per-project directory holding settings and logs.
const SettingsDirName = ".tinker"

// settingsFileName is the JSON file inside SettingsDirName.
const settingsFileName = "settings.json"

// Setting keys.
const (
	KeyGitTracking = "git_tracking"
	KeyProvider    = "provider"
	KeyModel       = "model"
)

// Defaults seeded by Initialize. Git tracking starts off so the tool
// works in directories that are not repositories.
var defaults = map[string]string{
	KeyGitTracking: "off",
	KeyProvider:    "openai",
	KeyModel:       "gpt-4o",
}

// APIKeyEnvVar overrides provider-conventional API key variables when
// set.
const APIKeyEnvVar = "TINKER_API_KEY"

// providerKeyEnvVars maps a provider name to its conventional API key
// environment variable.
var providerKeyEnvVars = map[string]string{
	"openai":    "OPENAI_API_KEY",
	"anthropic": "ANTHROPIC_API_KEY",
	"groq":      "GROQ_API_KEY",
	"ollama":    "OLLAMA_API_KEY",
}

// Manager reads and writes settings rooted at a base directory. Writes
// are atomic: the file is replaced by rename, never truncated in place.
type Manager struct {
	baseDir string
	mu      sync.Mutex
}

// NewManager creates a Manager rooted at baseDir.
func NewManager(baseDir string) *Manager {
	return &Manager{baseDir: baseDir}
}

// Dir returns the settings directory path.
func (m *Manager) Dir() string {
	return filepath.Join(m.baseDir, SettingsDirName)
}

func (m *Manager) filePath() string {
	return filepath.Join(m.Dir(), settingsFileName)
}

// Initialize creates the settings directory and seeds any missing
// defaults. Existing values are never overwritten.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := os.MkdirAll(m.Dir(), 0o755); err != nil {
		return fmt.Errorf("create settings dir: %w", err)
	}

	values, err := m.load()
	if err != nil {
		return err
	}

	changed := false
	for key, value := range defaults {
		if _, ok := values[key]; !ok {
			values[key] = value
			changed = true
		}
	}
	if !changed {
		return nil
	}
	return m.store(values)
}

// Get returns the value for key, or "" when unset.
func (m *Manager) Get(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.load()
	if err != nil {
		return "", err
	}
	return values[key], nil
}

// Set stores value under key.
func (m *Manager) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.load()
	if err != nil {
		return err
	}
	values[key] = value
	return m.store(values)
}

// All returns every setting, sorted by key.
func (m *Manager) All() ([][2]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	values, err := m.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([][2]string, 0, len(keys))
	for _, key := range keys {
		pairs = append(pairs, [2]string{key, values[key]})
	}
	return pairs, nil
}

// GitTrackingEnabled reports whether git-backed snapshots are on.
func (m *Manager) GitTrackingEnabled() (bool, error) {
	value, err := m.Get(KeyGitTracking)
	if err != nil {
		return false, err
	}
	return value == "on", nil
}

// APIKey resolves the API key for provider: the TINKER_API_KEY override
// first, then the provider-conventional environment variable.
func APIKey(provider string) string {
	if key := os.Getenv(APIKeyEnvVar); key != "" {
		return key
	}
	if envVar, ok := providerKeyEnvVars[provider]; ok {
		return os.Getenv(envVar)
	}
	return ""
}

func (m *Manager) load() (map[string]string, error) {
	data, err := os.ReadFile(m.filePath())
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	return values, nil
}

func (m *Manager) store(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(m.Dir(), settingsFileName+".tmp-*")
	if err != nil {
		return fmt.Errorf("write settings: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	if err := os.Rename(tmpName, m.filePath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write settings: %w", err)
	}
	return nil
}
