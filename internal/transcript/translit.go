package transcript

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"
)

// needsTransliteration reports whether the text contains letters outside the
// Latin script. Digits and punctuation never trigger transliteration.
func needsTransliteration(text string) bool {
	for _, r := range text {
		if unicode.IsLetter(r) && !unicode.Is(unicode.Latin, r) {
			return true
		}
	}
	return false
}

const translitSystemPrompt = `You transliterate text into Latin script.

Rules:
- Convert every non-Latin word to its standard Latin-script rendering, keeping the original language (transliterate, do not translate).
- Leave words already in Latin script, numbers, and punctuation unchanged.
- Respond with ONLY the transliterated text, no explanations.`

// OpenAITransliterator renders non-Latin transcript text in Latin script via
// a chat-completion model. It implements Transliterator and is safe for
// concurrent use.
type OpenAITransliterator struct {
	client oai.Client
	model  string
}

// TranslitOption configures an OpenAITransliterator.
type TranslitOption func(*translitConfig)

type translitConfig struct {
	baseURL string
}

// WithTranslitBaseURL overrides the API base URL, mainly for tests.
func WithTranslitBaseURL(url string) TranslitOption {
	return func(c *translitConfig) { c.baseURL = url }
}

func NewOpenAITransliterator(apiKey, model string, opts ...TranslitOption) (*OpenAITransliterator, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("transliterator: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("transliterator: model must not be empty")
	}

	cfg := &translitConfig{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &OpenAITransliterator{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Transliterate implements Transliterator. Deadline and cancellation come
// from ctx; the caller decides how long the step may take.
func (t *OpenAITransliterator) Transliterate(ctx context.Context, text string) (string, error) {
	resp, err := t.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(t.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(translitSystemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.0),
	})
	if err != nil {
		return "", fmt.Errorf("transliterator: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("transliterator: empty choices in response")
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
