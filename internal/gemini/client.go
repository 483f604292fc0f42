// Package gemini implements integration with Google's Gemini AI API.
// It provides digest generation and message embedding for the bot.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"sikumbot/internal/config"
	"sikumbot/internal/retry"
)

// Client defines the interface for AI operations used throughout the
// application: digest generation for a group transcript, and embedding
// computation for single messages.
type Client interface {
	// GenerateSummary produces a digest for one group's formatted transcript.
	GenerateSummary(ctx context.Context, groupName, transcript string) (string, error)

	// Embed computes an embedding vector for a single message text.
	Embed(ctx context.Context, text string) ([]float32, error)
}

type sdkClient struct {
	genaiClient    *genai.Client
	log            *slog.Logger
	contentConfig  *genai.GenerateContentConfig
	modelName      string
	embeddingModel string
	retry          retry.Policy
}

// NewClient creates a new Gemini AI client with the provided configuration.
// It initializes the connection to the Gemini API and sets up necessary parameters.
func NewClient(ctx context.Context, cfg config.GeminiConfig, retryPolicy retry.Policy, log *slog.Logger) (Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}

	gi, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	baseCfg := &genai.GenerateContentConfig{
		Temperature: &cfg.Temperature,
	}

	logger := log.With("component", "gemini_client")
	logger.Info("Gemini client initialized successfully",
		"model", cfg.Model, "embedding_model", cfg.EmbeddingModel)

	return &sdkClient{
		genaiClient:    gi,
		log:            logger,
		contentConfig:  baseCfg,
		modelName:      cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		retry:          retryPolicy,
	}, nil
}

// GenerateSummary invokes the model with the fixed digest instruction and the
// formatted transcript, retrying with randomized exponential backoff.
func (c *sdkClient) GenerateSummary(ctx context.Context, groupName, transcript string) (string, error) {
	c.log.DebugContext(ctx, "Generating summary", "group_name", groupName, "transcript_length", len(transcript))

	instruction := fmt.Sprintf(SummarySystemInstruction, groupName)
	contents := []*genai.Content{
		genai.NewContentFromText(instruction+"\n\nChat Messages:\n"+transcript, genai.RoleUser),
	}

	var resp *genai.GenerateContentResponse
	err := retry.Do(ctx, c.log, c.retry, "generate_summary", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.genaiClient.Models.GenerateContent(ctx, c.modelName, contents, c.contentConfig)
		return callErr
	})
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini summary generation failed", "group_name", groupName, "error", err)
		return "", err
	}

	text, err := extractText(resp)
	if err != nil {
		c.log.ErrorContext(ctx, "Gemini summary response unusable", "group_name", groupName, "error", err)
		return "", err
	}

	c.log.InfoContext(ctx, "Summary generated", "group_name", groupName, "length", len(text))
	return text, nil
}

// Embed computes an embedding for one message text.
func (c *sdkClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	contents := []*genai.Content{genai.NewContentFromText(text, genai.RoleUser)}

	var resp *genai.EmbedContentResponse
	err := retry.Do(ctx, c.log, c.retry, "embed_content", func(ctx context.Context) error {
		var callErr error
		resp, callErr = c.genaiClient.Models.EmbedContent(ctx, c.embeddingModel, contents, nil)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding response contained no values")
	}

	c.log.DebugContext(ctx, "Generated embedding", "dimension", len(resp.Embeddings[0].Values))
	return resp.Embeddings[0].Values, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != genai.BlockedReasonUnspecified {
		reasonMsg := fmt.Sprintf("%v", resp.PromptFeedback.BlockReason)
		if resp.PromptFeedback.BlockReasonMessage != "" {
			reasonMsg = resp.PromptFeedback.BlockReasonMessage
		}
		return "", fmt.Errorf("generation blocked by safety filter: %s", reasonMsg)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		finishReason := "unknown"
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			finishReason = fmt.Sprintf("%v", resp.Candidates[0].FinishReason)
		}
		return "", fmt.Errorf("generation returned no content, finish reason: %s", finishReason)
	}

	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("generation returned empty text")
	}
	return text, nil
}
