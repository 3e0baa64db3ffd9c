package worker

import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/skellig/convoke/internal/dispatch"
	"github.com/skellig/convoke/pkg/models"
)

// ClaudeConfig contains configuration for creating a Claude-backed worker.
type ClaudeConfig struct {
	// ID is the worker's identity in the registry.
	ID string
	// Capabilities describes what this worker advertises; it shapes the
	// system prompt.
	Capabilities []models.Capability
	// Model is the Claude model to use. Empty selects a default.
	Model anthropic.Model
	// APIKey is the Anthropic API key. Required unless UseAWSBedrock.
	APIKey string
	// UseAWSBedrock routes calls through AWS Bedrock instead of the API.
	UseAWSBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS profile name to use.
	AWSProfile string
	// MaxTokens bounds the response length. Zero means 4096.
	MaxTokens int64
}

// Claude is a dispatch.Worker backed by the Anthropic Messages API.
type Claude struct {
	id           string
	capabilities []models.Capability
	client       anthropic.Client
	model        anthropic.Model
	maxTokens    int64
}

// NewClaude creates an Anthropic-backed worker.
func NewClaude(cfg ClaudeConfig) (*Claude, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("worker ID must not be empty")
	}

	var opts []option.RequestOption
	if cfg.UseAWSBedrock {
		var loadOpts []func(*config.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, config.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, config.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
	} else {
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("worker %q: no API key configured", cfg.ID)
		}
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}

	model := cfg.Model
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}
	if cfg.UseAWSBedrock {
		model = translateModelForBedrock(model)
	}

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &Claude{
		id:           cfg.ID,
		capabilities: cfg.Capabilities,
		client:       anthropic.NewClient(opts...),
		model:        model,
		maxTokens:    maxTokens,
	}, nil
}

// translateModelForBedrock converts standard Anthropic model names to
// Bedrock cross-region inference profile format (us.anthropic.{model}-v1:0).
func translateModelForBedrock(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		anthropic.ModelClaudeSonnet4_20250514:   "us.anthropic.claude-sonnet-4-20250514-v1:0",
		anthropic.ModelClaudeSonnet4_5_20250929: "us.anthropic.claude-sonnet-4-5-20250929-v1:0",
		anthropic.ModelClaudeHaiku4_5_20251001:  "us.anthropic.claude-haiku-4-5-20251001-v1:0",
		anthropic.ModelClaudeOpus4_1_20250805:   "us.anthropic.claude-opus-4-1-20250805-v1:0",
		anthropic.ModelClaude3_5Haiku20241022:   "us.anthropic.claude-3-5-haiku-20241022-v1:0",
	}

	if bedrockModel, ok := bedrockModels[model]; ok {
		return anthropic.Model(bedrockModel)
	}
	return model
}

// ID returns the worker's identity.
func (c *Claude) ID() string {
	return c.id
}

// Invoke sends the assignment to the Messages API and parses the text
// response into a payload.
func (c *Claude) Invoke(ctx context.Context, a dispatch.Assignment) (models.Payload, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(c.capabilities, a.Capabilities)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt(a))),
		},
	})
	if err != nil {
		return models.Payload{}, fmt.Errorf("API call failed: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(variant.Text)
		}
	}

	return parsePayload(text.String()), nil
}

// Ping verifies the worker can reach the API with a minimal request.
func (c *Claude) Ping(ctx context.Context) error {
	_, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	return err
}

// systemPrompt frames the worker as a specialist for its assigned
// capabilities.
func systemPrompt(advertised, assigned []models.Capability) string {
	caps := assigned
	if len(caps) == 0 {
		caps = advertised
	}
	tags := make([]string, len(caps))
	for i, c := range caps {
		tags[i] = string(c)
	}

	var b strings.Builder
	b.WriteString("You are a specialist worker in a coordination system. ")
	b.WriteString("Your assigned capabilities: ")
	b.WriteString(strings.Join(tags, ", "))
	b.WriteString(".\n\nAnswer only within those capabilities. Structure your response as:\n")
	b.WriteString("a concise summary paragraph, then an optional section starting with the line\n")
	b.WriteString("'Recommendations:' followed by one recommendation per line, each prefixed with '- '.")
	return b.String()
}

// userPrompt renders the assignment, including any upstream context
// pipelined from earlier workers.
func userPrompt(a dispatch.Assignment) string {
	var b strings.Builder
	b.WriteString(a.Text)

	if len(a.Context) > 0 {
		b.WriteString("\n\nContext:\n")
		for k, v := range a.Context {
			fmt.Fprintf(&b, "%s: %s\n", k, v)
		}
	}
	return b.String()
}

// parsePayload splits a text response into summary and recommendations.
// Lines prefixed with "- " after a "Recommendations:" marker become the
// recommendation list; everything before the marker is the summary.
func parsePayload(text string) models.Payload {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Payload{}
	}

	marker := -1
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		if strings.EqualFold(strings.TrimSpace(line), "recommendations:") {
			marker = i
			break
		}
	}
	if marker < 0 {
		return models.Payload{Summary: text}
	}

	summary := strings.TrimSpace(strings.Join(lines[:marker], "\n"))
	var recs []string
	for _, line := range lines[marker+1:] {
		line = strings.TrimSpace(line)
		if rec, ok := strings.CutPrefix(line, "- "); ok {
			if rec = strings.TrimSpace(rec); rec != "" {
				recs = append(recs, rec)
			}
		}
	}
	return models.Payload{Summary: summary, Recommendations: recs}
}
