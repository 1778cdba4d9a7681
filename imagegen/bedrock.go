package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	social "github.com/goliatone/go-social"
)

const (
	DefaultModelID = "amazon.titan-image-generator-v2:0"
	DefaultSize    = 1024

	// maxPromptRunes is the Titan text prompt limit.
	maxPromptRunes = 512
)

// Config holds Bedrock settings.
type Config struct {
	Region   string
	ModelID  string
	Width    int
	Height   int
	CfgScale float64
	Logger   social.Logger
}

type invoker interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Bedrock implements social.TextToImage with a Titan image model.
type Bedrock struct {
	client invoker
	config Config
	logger social.Logger
}

var _ social.TextToImage = (*Bedrock)(nil)

// NewBedrock loads the default AWS configuration for cfg.Region.
func NewBedrock(ctx context.Context, cfg Config) (*Bedrock, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load aws config: %w", err)
	}
	return newBedrock(bedrockruntime.NewFromConfig(awsCfg), cfg), nil
}

func newBedrock(client invoker, cfg Config) *Bedrock {
	if cfg.ModelID == "" {
		cfg.ModelID = DefaultModelID
	}
	if cfg.Width <= 0 {
		cfg.Width = DefaultSize
	}
	if cfg.Height <= 0 {
		cfg.Height = DefaultSize
	}
	if cfg.CfgScale <= 0 {
		cfg.CfgScale = 8.0
	}
	return &Bedrock{client: client, config: cfg, logger: social.NormalizeLogger(cfg.Logger)}
}

type titanRequest struct {
	TaskType          string            `json:"taskType"`
	TextToImageParams titanTextParams   `json:"textToImageParams"`
	GenerationConfig  titanImageOptions `json:"imageGenerationConfig"`
}

type titanTextParams struct {
	Text string `json:"text"`
}

type titanImageOptions struct {
	NumberOfImages int     `json:"numberOfImages"`
	Width          int     `json:"width"`
	Height         int     `json:"height"`
	CfgScale       float64 `json:"cfgScale"`
}

type titanResponse struct {
	Images []string `json:"images"`
	Error  *string  `json:"error"`
}

// Generate renders prompt into a PNG.
func (b *Bedrock) Generate(ctx context.Context, prompt string) (*social.MediaPayload, error) {
	prompt = social.TruncateRunes(prompt, maxPromptRunes)
	if prompt == "" {
		return nil, errors.New("image prompt is empty")
	}

	body, err := json.Marshal(titanRequest{
		TaskType:          "TEXT_IMAGE",
		TextToImageParams: titanTextParams{Text: prompt},
		GenerationConfig: titanImageOptions{
			NumberOfImages: 1,
			Width:          b.config.Width,
			Height:         b.config.Height,
			CfgScale:       b.config.CfgScale,
		},
	})
	if err != nil {
		return nil, err
	}

	output, err := b.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(b.config.ModelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock image generation failed: %w", err)
	}

	var resp titanResponse
	if err := json.Unmarshal(output.Body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode bedrock response: %w", err)
	}
	if resp.Error != nil && *resp.Error != "" {
		return nil, fmt.Errorf("bedrock image generation failed: %s", *resp.Error)
	}
	if len(resp.Images) == 0 {
		return nil, errors.New("bedrock returned no images")
	}

	data, err := base64.StdEncoding.DecodeString(resp.Images[0])
	if err != nil {
		return nil, fmt.Errorf("failed to decode generated image: %w", err)
	}

	b.logger.Debug("image generated", "model", b.config.ModelID, "bytes", len(data))
	return social.NewMediaPayload(data, "generated.png", "image/png"), nil
}
