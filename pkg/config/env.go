package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// LoadEnvFiles loads .env.local (if present) then .env into the process
// environment, used before the config file is parsed so that ${VAR}
// expansion sees them.
func LoadEnvFiles() error {
	envFiles := []string{".env.local", ".env"}

	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	return nil
}

// GetProviderAPIKey returns the default environment variable's API key
// for a provider kind, used when a provider config omits api_key.
func GetProviderAPIKey(kind string) string {
	switch kind {
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	case "gemini", "gemini_vision":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GOOGLE_API_KEY")
	case "langchain":
		return os.Getenv("OPENAI_API_KEY")
	default:
		return ""
	}
}
