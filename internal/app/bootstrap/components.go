package bootstrap

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/wolfman30/prescription-ai-platform/internal/agent"
	appconfig "github.com/wolfman30/prescription-ai-platform/internal/config"
	"github.com/wolfman30/prescription-ai-platform/internal/drug"
	"github.com/wolfman30/prescription-ai-platform/internal/llm"
	"github.com/wolfman30/prescription-ai-platform/internal/prescription"
	"github.com/wolfman30/prescription-ai-platform/internal/vision"
	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

// BuildPrescriptionStore selects the record backend named by PRESCRIPTION_STORE.
func BuildPrescriptionStore(cfg *appconfig.Config, pool prescription.PgxPool, dynamo *dynamodb.Client, logger *logging.Logger) (prescription.Store, error) {
	switch cfg.PrescriptionStore {
	case "", "postgres":
		if pool == nil {
			return nil, fmt.Errorf("bootstrap: postgres prescription store needs a database pool")
		}
		return prescription.NewPGStore(pool), nil
	case "dynamodb":
		if dynamo == nil {
			return nil, fmt.Errorf("bootstrap: dynamodb prescription store needs a dynamodb client")
		}
		logger.Info("prescription records stored in dynamodb", "table", cfg.PrescriptionsTable)
		return prescription.NewDynamoStore(dynamo, cfg.PrescriptionsTable, logger), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown prescription store %q", cfg.PrescriptionStore)
	}
}

// BuildVisionAnalyzer selects the inference backend named by VISION_PROVIDER.
// The bedrock analyzer reads image bytes back out of blob storage.
func BuildVisionAnalyzer(cfg *appconfig.Config, converse llm.ConverseAPI, images vision.ImageFetcher, logger *logging.Logger) (vision.Analyzer, error) {
	switch cfg.VisionProvider {
	case "", "http":
		return vision.NewHTTPClient(vision.HTTPConfig{
			Endpoint: cfg.VQAEndpoint,
			Timeout:  cfg.VQATimeout,
			Logger:   logger,
		})
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockVisionModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_VISION_MODEL_ID is required for bedrock vision")
		}
		if converse == nil || images == nil {
			return nil, fmt.Errorf("bootstrap: bedrock vision needs a converse client and image store")
		}
		return vision.NewBedrockAnalyzer(converse, images, cfg.BedrockVisionModelID, cfg.VQATimeout), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown vision provider %q", cfg.VisionProvider)
	}
}

// BuildLLMClient returns the general-question model, or nil when
// LLM_PROVIDER is "none". When an OpenAI key is configured alongside a
// different primary provider, OpenAI serves as the fallback.
func BuildLLMClient(ctx context.Context, cfg *appconfig.Config, converse llm.ConverseAPI, logger *logging.Logger) (llm.Client, error) {
	var primary llm.Client
	switch cfg.LLMProvider {
	case "", "none":
		logger.Warn("no language model configured; general questions get a fixed notice")
		return nil, nil
	case "bedrock":
		if strings.TrimSpace(cfg.BedrockModelID) == "" {
			return nil, fmt.Errorf("bootstrap: BEDROCK_MODEL_ID is required for bedrock")
		}
		if converse == nil {
			return nil, fmt.Errorf("bootstrap: bedrock llm needs a converse client")
		}
		primary = llm.NewBedrockClient(converse, cfg.BedrockModelID)
	case "gemini":
		client, err := llm.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModelID)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: %w", err)
		}
		primary = client
	case "openai":
		return newOpenAI(cfg)
	default:
		return nil, fmt.Errorf("bootstrap: unknown llm provider %q", cfg.LLMProvider)
	}

	if strings.TrimSpace(cfg.OpenAIAPIKey) == "" {
		return primary, nil
	}
	fallback, err := newOpenAI(cfg)
	if err != nil {
		return nil, err
	}
	logger.Info("llm fallback enabled", "primary", cfg.LLMProvider, "fallback", "openai")
	return llm.NewFallbackClient(primary, fallback, logger), nil
}

func newOpenAI(cfg *appconfig.Config) (llm.Client, error) {
	client, err := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAIModel,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return client, nil
}

// BuildDrugClient wires the two-catalog drug lookup.
func BuildDrugClient(cfg *appconfig.Config, logger *logging.Logger) (*drug.Client, error) {
	client, err := drug.New(drug.Config{
		ServiceKey:      cfg.DrugAPIServiceKey,
		GeneralURL:      cfg.DrugOTCAPIURL,
		PrescriptionURL: cfg.DrugRxAPIURL,
		Timeout:         cfg.DrugAPITimeout,
		MatchThreshold:  cfg.DrugMatchThreshold,
		Logger:          logger,
	})
	if err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}
	return client, nil
}

// BuildRouter selects the turn router named by AGENT_STRATEGY. The ReAct
// router needs a model; without one it degrades to keyword routing.
func BuildRouter(cfg *appconfig.Config, model llm.Client, finder agent.DrugFinder, pipeline *agent.Pipeline, logger *logging.Logger) (agent.Router, error) {
	switch cfg.AgentStrategy {
	case "", "keyword":
		return agent.NewKeywordRouter(finder, cfg.DrugDetailMaxChars), nil
	case "react":
		if model == nil {
			logger.Warn("react strategy requested without a language model; using keyword routing")
			return agent.NewKeywordRouter(finder, cfg.DrugDetailMaxChars), nil
		}
		return agent.NewReActRouter(model, finder, pipeline, logger,
			agent.WithMaxIterations(cfg.AgentMaxIterations),
			agent.WithDrugDetailMaxChars(cfg.DrugDetailMaxChars),
		), nil
	default:
		return nil, fmt.Errorf("bootstrap: unknown agent strategy %q", cfg.AgentStrategy)
	}
}
