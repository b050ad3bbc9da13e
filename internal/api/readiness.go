package api

import (
	"context"
	"errors"
	"fmt"

	"github.com/dbchat/dbchat/internal/config"
	"github.com/dbchat/dbchat/internal/storage"
)

// CheckLLMConfig fails when the configured provider needs an API key and none
// is set. Ollama and Bedrock authenticate elsewhere.
func CheckLLMConfig(cfg config.Config) ReadinessCheck {
	return func(_ context.Context) error {
		switch cfg.LLM.Provider {
		case "ollama", "bedrock":
			return nil
		}
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("%s api key is not configured", cfg.LLM.Provider)
		}
		return nil
	}
}

// CheckExportStore pings the export bucket. A nil store means export is
// disabled and always passes.
func CheckExportStore(store storage.ObjectStore) ReadinessCheck {
	if store == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := store.Ping(ctx); err != nil {
			return errors.Join(errors.New("export store is not reachable"), err)
		}
		return nil
	}
}
