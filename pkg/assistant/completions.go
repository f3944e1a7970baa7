package assistant

import (
	"context"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/covebase/cove/pkg/config"
	"github.com/covebase/cove/pkg/observability"
)

const systemPrompt = "You are a helpful workspace assistant. Answer using the provided context when it is relevant, and say so when it is not."

// OpenAIStreamer streams completions from an OpenAI-compatible API.
// The base URL is configurable so any compatible backend works.
type OpenAIStreamer struct {
	client openai.Client
	logger *observability.Logger
}

// NewCompletionStreamer creates the streaming completion client.
func NewCompletionStreamer(cfg config.ChatConfig, logger *observability.Logger) *OpenAIStreamer {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.CompletionAPIKey),
	}
	if cfg.CompletionBaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.CompletionBaseURL))
	}
	return &OpenAIStreamer{
		client: openai.NewClient(opts...),
		logger: logger.WithComponent("completions"),
	}
}

// Stream starts a completion and returns its tokens as a channel. The
// channel closes when the completion finishes, errors, or ctx ends.
func (s *OpenAIStreamer) Stream(ctx context.Context, model, prompt string) (<-chan string, error) {
	stream := s.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(prompt),
		},
	})

	tokens := make(chan string)
	go func() {
		defer close(tokens)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			select {
			case tokens <- delta:
			case <-ctx.Done():
				return
			}
		}
		if err := stream.Err(); err != nil {
			s.logger.WithError(err).WithField("model", model).
				Error("Completion stream failed")
		}
	}()
	return tokens, nil
}
