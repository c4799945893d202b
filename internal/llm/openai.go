package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAICompatible talks to any chat-completions API shaped like OpenAI's:
// OpenAI itself, Anthropic's compatibility endpoint and OpenRouter.
type OpenAICompatible struct {
	name    string
	client  openai.Client
	model   string
	timeout time.Duration
}

func NewOpenAICompatible(name, apiKey, baseURL, model string, timeout time.Duration) *OpenAICompatible {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if name == ProviderOpenRouter {
		opts = append(opts, option.WithHeader("X-Title", "noonfeed"))
	}

	return &OpenAICompatible{
		name:    name,
		client:  openai.NewClient(opts...),
		model:   model,
		timeout: timeout,
	}
}

var _ Provider = (*OpenAICompatible)(nil)

func (p *OpenAICompatible) Name() string         { return p.name }
func (p *OpenAICompatible) DefaultModel() string { return p.model }

func (p *OpenAICompatible) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	model := opts.Model
	if model == "" {
		model = p.model
	}
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	var messages []openai.ChatCompletionMessageParamUnion
	if opts.System != "" {
		messages = append(messages, openai.ChatCompletionMessageParamUnion{
			OfSystem: &openai.ChatCompletionSystemMessageParam{
				Content: openai.ChatCompletionSystemMessageParamContentUnion{
					OfString: openai.String(opts.System),
				},
			},
		})
	}
	messages = append(messages, openai.ChatCompletionMessageParamUnion{
		OfUser: &openai.ChatCompletionUserMessageParam{
			Content: openai.ChatCompletionUserMessageParamContentUnion{
				OfString: openai.String(prompt),
			},
		},
	})

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    messages,
		Temperature: openai.Float(opts.Temperature),
	}
	if opts.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(opts.MaxTokens))
	}

	response, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", p.wrap(err)
	}
	if len(response.Choices) == 0 {
		return "", &Error{Provider: p.name, Kind: KindPermanent, Err: errors.New("no choices in response")}
	}

	content := strings.TrimSpace(response.Choices[0].Message.Content)
	if content == "" {
		return "", &Error{Provider: p.name, Kind: KindPermanent, Err: errors.New("empty completion")}
	}
	return content, nil
}

func (p *OpenAICompatible) wrap(err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &Error{Provider: p.name, Kind: KindForStatus(apiErr.StatusCode), StatusCode: apiErr.StatusCode, Err: err}
	}
	return &Error{Provider: p.name, Kind: Classify(err), Err: err}
}
