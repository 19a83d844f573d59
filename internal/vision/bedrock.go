package vision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
)

type bedrockConverseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// ImageFetcher loads image bytes for a stored object key.
type ImageFetcher interface {
	Get(ctx context.Context, key string) ([]byte, string, error)
}

// BedrockAnalyzer runs inference through a multimodal Bedrock model.
type BedrockAnalyzer struct {
	api       bedrockConverseAPI
	images    ImageFetcher
	modelID   string
	timeout   time.Duration
	maxTokens int32
}

var _ Analyzer = (*BedrockAnalyzer)(nil)

func NewBedrockAnalyzer(api bedrockConverseAPI, images ImageFetcher, modelID string, timeout time.Duration) *BedrockAnalyzer {
	if api == nil {
		panic("vision: bedrock converse client cannot be nil")
	}
	if images == nil {
		panic("vision: image fetcher cannot be nil")
	}
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &BedrockAnalyzer{
		api:       api,
		images:    images,
		modelID:   modelID,
		timeout:   timeout,
		maxTokens: 1024,
	}
}

func (a *BedrockAnalyzer) Analyze(ctx context.Context, req Request) (string, error) {
	if strings.TrimSpace(a.modelID) == "" {
		return "", errors.New("vision: bedrock model id is required")
	}
	if req.Image.Key == "" {
		return "", errors.New("vision: image key required")
	}

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	data, contentType, err := a.images.Get(ctx, req.Image.Key)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
		}
		return "", fmt.Errorf("vision: load image %s: %w", req.Image.Key, err)
	}
	if contentType == "" {
		contentType = req.Image.ContentType
	}

	out, err := a.api.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(a.modelID),
		Messages: []brtypes.Message{{
			Role: brtypes.ConversationRoleUser,
			Content: []brtypes.ContentBlock{
				&brtypes.ContentBlockMemberImage{Value: brtypes.ImageBlock{
					Format: imageFormat(contentType),
					Source: &brtypes.ImageSourceMemberBytes{Value: data},
				}},
				&brtypes.ContentBlockMemberText{Value: req.Question},
			},
		}},
		InferenceConfig: &brtypes.InferenceConfiguration{MaxTokens: aws.Int32(a.maxTokens)},
	})
	if err != nil {
		return "", a.classify(ctx, err)
	}

	msg, ok := out.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return "", &UpstreamError{Reason: "response did not include a message output"}
	}
	var b strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*brtypes.ContentBlockMemberText); ok {
			b.WriteString(text.Value)
		}
	}
	result := strings.TrimSpace(b.String())
	if result == "" {
		return "", &UpstreamError{Reason: "empty inference result"}
	}
	return result, nil
}

func (a *BedrockAnalyzer) classify(ctx context.Context, err error) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, a.timeout)
	}
	upstream := &UpstreamError{Reason: err.Error()}
	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		upstream.StatusCode = respErr.HTTPStatusCode()
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		upstream.Reason = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return upstream
}

func imageFormat(contentType string) brtypes.ImageFormat {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return brtypes.ImageFormatPng
	case "image/gif":
		return brtypes.ImageFormatGif
	case "image/webp":
		return brtypes.ImageFormatWebp
	default:
		return brtypes.ImageFormatJpeg
	}
}
