package config

type Config struct {
	Server   ServerConfig
	Ollama   OllamaConfig
	Storage  StorageConfig
	Assembly AssemblyConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port    int
	MCPPort int
	// APIToken protects the HTTP API. Generated and persisted to the
	// config backend on first start when not set explicitly.
	APIToken string
}

type OllamaConfig struct {
	BaseURL string
	// ChatModel produces conversational replies.
	ChatModel string
	// ExtractModel runs structured memory extraction; a small fast model
	// is enough since the output is schema-constrained JSON.
	ExtractModel string
	EmbedModel   string
}

type StorageConfig struct {
	DataDir string
}

type AssemblyConfig struct {
	// TopK is how many knowledge chunks context assembly retrieves per turn.
	TopK int
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Port:    4600,
			MCPPort: 4601,
		},
		Ollama: OllamaConfig{
			BaseURL:      "http://localhost:11434",
			ChatModel:    "mistral-nemo",
			ExtractModel: "phi3.5",
			EmbedModel:   "nomic-embed-text",
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Assembly: AssemblyConfig{
			TopK: 3,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend at
// $XDG_CONFIG_HOME/sage/config.json, then applies SAGE_* environment
// variable overrides. A missing API token is generated and persisted
// so restarts keep the same token.
func Load() (Config, error) {
	return loadWith(newFileBackend())
}

func loadWith(b Backend) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	if cfg.Server.APIToken == "" {
		token, err := ensureAPIToken(b)
		if err != nil {
			return Config{}, err
		}
		cfg.Server.APIToken = token
	}

	return cfg, nil
}
