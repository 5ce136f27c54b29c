package analysis

import (
	"fmt"
	"log/slog"

	"github.com/sashabaranov/go-openai"

	"github.com/finsightlab/finsight/internal/config"
)

const defaultModel = "gpt-4o-mini"

// New builds the Analyzer selected by the provider setting.
func New(cfg config.AnalysisConfig, logger *slog.Logger) (Analyzer, error) {
	switch cfg.Provider {
	case "openai":
		model := cfg.Model
		if model == "" {
			model = defaultModel
			logger.Warn("Analysis model not set, using default",
				slog.String("model", model),
			)
		}

		clientConfig := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			clientConfig.BaseURL = cfg.BaseURL
		}

		return NewPipeline(openai.NewClientWithConfig(clientConfig), PipelineConfig{
			Model:            model,
			Temperature:      cfg.Temperature,
			MaxDocumentChars: cfg.MaxDocumentChars,
		}, logger), nil

	default:
		return nil, fmt.Errorf("unsupported analysis provider: %q", cfg.Provider)
	}
}
