package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/manifoldco/promptui"
)

// embeddingPresets maps each embedding provider to its default model and
// vector width.
var embeddingPresets = map[EmbeddingProvider]EmbeddingConfig{
	EmbeddingOpenAI: {Provider: EmbeddingOpenAI, Model: "text-embedding-3-small", Dimensions: 1536},
	EmbeddingOllama: {Provider: EmbeddingOllama, Model: "nomic-embed-text", Dimensions: 768},
}

// RunWizard runs an interactive configuration wizard and returns the
// resulting Config. It also saves the config to path.
func RunWizard(path string) (*Config, error) {
	fmt.Println("Welcome to chatrobot! Let's configure the QA service.")
	fmt.Println()

	cfg := DefaultConfig()

	// 1. Embedding provider.
	providerPrompt := promptui.Select{
		Label: "Select embedding provider",
		Items: []string{string(EmbeddingOpenAI), string(EmbeddingOllama)},
	}
	_, providerStr, err := providerPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("provider selection: %w", err)
	}
	cfg.Embedding = embeddingPresets[EmbeddingProvider(providerStr)]

	// 2. Session backend.
	backendPrompt := promptui.Select{
		Label: "Where should dialogue sessions live",
		Items: []string{
			"memory: single process",
			"redis: shared between processes",
		},
	}
	backendIdx, _, err := backendPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("session backend selection: %w", err)
	}
	if backendIdx == 1 {
		cfg.Session.Backend = SessionRedis
		addrPrompt := promptui.Prompt{
			Label:   "Redis address",
			Default: cfg.Redis.Addr,
		}
		addr, err := addrPrompt.Run()
		if err != nil {
			return nil, fmt.Errorf("redis address: %w", err)
		}
		cfg.Redis.Addr = addr
	}

	// 3. Data directory.
	dataPrompt := promptui.Prompt{
		Label:   "Data directory (answer db and vector index)",
		Default: cfg.DataDir,
	}
	dataDir, err := dataPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("data dir: %w", err)
	}
	cfg.DataDir = dataDir

	// 4. Port.
	portPrompt := promptui.Prompt{
		Label:    "HTTP port",
		Default:  strconv.Itoa(cfg.Server.Port),
		Validate: validatePort,
	}
	portStr, err := portPrompt.Run()
	if err != nil {
		return nil, fmt.Errorf("port: %w", err)
	}
	cfg.Server.Port, _ = strconv.Atoi(portStr)

	if envVar := APIKeyEnvVar(cfg.Embedding.Provider); envVar != "" && os.Getenv(envVar) == "" {
		fmt.Printf("\nNote: Set %s in your environment before running chatrobot import.\n", envVar)
	}

	if err := cfg.Save(path); err != nil {
		return nil, fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("\nConfiguration saved to %s\n", path)
	return cfg, nil
}

func validatePort(s string) error {
	port, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("port must be a number")
	}
	if port <= 0 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	return nil
}
