// Package config handles Apex configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./apex.yaml, ~/.config/apex/apex.yaml, /etc/apex/apex.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"apex.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "apex", "apex.yaml"))
	}

	paths = append(paths, "/etc/apex/apex.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
// Returns the path found, or an error if nothing was found.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Apex configuration. It is constructed once at startup
// and passed by reference into every component that needs it; there is no
// package-level settings singleton.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Memory     MemoryConfig     `yaml:"memory"`
	DBPath     string           `yaml:"db_path"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines completion model routing settings.
type ModelsConfig struct {
	// Provider selects the completion backend: "ollama" or "openai".
	Provider string `yaml:"provider"`
	// Default is the model used for conversation turns.
	Default string `yaml:"default"`
	// Extraction is the cheaper model used for background fact extraction.
	Extraction string `yaml:"extraction"`
	// OllamaURL is the Ollama base URL (provider "ollama").
	OllamaURL string `yaml:"ollama_url"`
	// OpenAIBaseURL overrides the OpenAI-compatible endpoint (provider "openai").
	OpenAIBaseURL string `yaml:"openai_base_url"`
	// OpenAIAPIKey authenticates against the OpenAI-compatible endpoint.
	OpenAIAPIKey string `yaml:"openai_api_key"`
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// MemoryConfig tunes context assembly and the tool loop.
type MemoryConfig struct {
	// RecentTurns is how many conversation turns to include in context.
	RecentTurns int `yaml:"recent_turns"`
	// MaxFacts caps relevant facts injected per completion call.
	MaxFacts int `yaml:"max_facts"`
	// MaxIterations bounds the model/tool loop per turn.
	MaxIterations int `yaml:"max_iterations"`
	// ExtractionWindow is how many trailing turns feed fact extraction.
	ExtractionWindow int `yaml:"extraction_window"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen: ListenConfig{Port: 8080},
		Models: ModelsConfig{
			Provider:   "ollama",
			Default:    "qwen3:4b",
			Extraction: "qwen3:4b",
			OllamaURL:  "http://localhost:11434",
		},
		Embeddings: EmbeddingsConfig{
			Enabled: true,
			Model:   "nomic-embed-text",
		},
		Memory: MemoryConfig{
			RecentTurns:      10,
			MaxFacts:         20,
			MaxIterations:    10,
			ExtractionWindow: 4,
		},
		DBPath: "apex.db",
	}
}
