package api

import (
	"errors"
	"fmt"
	"strings"

	"bitnetgo/internal/llama"
	"bitnetgo/internal/models"
)

// completionRequest is the native completion body. Optional sampling
// fields are pointers so an explicit zero is distinguishable from an
// absent field.
type completionRequest struct {
	Prompt      string   `json:"prompt"`
	Temperature *float64 `json:"temperature"`
	TopK        *int     `json:"top_k"`
	TopP        *float64 `json:"top_p"`
	NPredict    *int     `json:"n_predict"`
	Threads     *int     `json:"threads"`
	CtxSize     *int     `json:"ctx_size"`
	Stream      bool     `json:"stream"`
}

func (r *completionRequest) validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return errors.New("prompt is required")
	}
	return validateSampling(r.Temperature, r.TopP, r.TopK, r.NPredict, r.Threads, r.CtxSize)
}

func (r *completionRequest) params() llama.Params {
	p := llama.Params{
		Prompt:      r.Prompt,
		Temperature: llama.DefaultTemperature,
		TopK:        llama.DefaultTopK,
		TopP:        llama.DefaultTopP,
		NPredict:    llama.DefaultNPredict,
		Threads:     llama.DefaultThreads,
		CtxSize:     llama.DefaultCtxSize,
	}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.TopK != nil {
		p.TopK = *r.TopK
	}
	if r.TopP != nil {
		p.TopP = *r.TopP
	}
	if r.NPredict != nil {
		p.NPredict = *r.NPredict
	}
	if r.Threads != nil {
		p.Threads = *r.Threads
	}
	if r.CtxSize != nil {
		p.CtxSize = *r.CtxSize
	}
	return p
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// chatCompletionRequest is the OpenAI-compatible chat body, shared by
// the stateless and conversation-scoped endpoints.
type chatCompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature *float64      `json:"temperature"`
	TopP        *float64      `json:"top_p"`
	MaxTokens   *int          `json:"max_tokens"`
	Stream      bool          `json:"stream"`
}

func (r *chatCompletionRequest) validate() error {
	if len(r.Messages) == 0 {
		return errors.New("messages is required")
	}
	for i, msg := range r.Messages {
		if !models.Role(msg.Role).Valid() {
			return fmt.Errorf("messages[%d]: invalid role %q", i, msg.Role)
		}
	}
	return validateSampling(r.Temperature, r.TopP, nil, r.MaxTokens, nil, nil)
}

func (r *chatCompletionRequest) params(prompt string) llama.Params {
	p := llama.Params{
		Prompt:      prompt,
		Temperature: llama.DefaultTemperature,
		TopK:        llama.DefaultTopK,
		TopP:        llama.DefaultTopP,
		NPredict:    llama.DefaultNPredict,
		Threads:     llama.DefaultThreads,
		CtxSize:     llama.DefaultCtxSize,
	}
	if r.Temperature != nil {
		p.Temperature = *r.Temperature
	}
	if r.TopP != nil {
		p.TopP = *r.TopP
	}
	if r.MaxTokens != nil {
		p.NPredict = *r.MaxTokens
	}
	return p
}

// history converts the request messages into stored message form.
func (r *chatCompletionRequest) history() []models.Message {
	msgs := make([]models.Message, 0, len(r.Messages))
	for _, m := range r.Messages {
		msgs = append(msgs, models.Message{Role: models.Role(m.Role), Content: m.Content})
	}
	return msgs
}

// lastUserMessage returns the newest user-role message in the request.
func (r *chatCompletionRequest) lastUserMessage() (models.Message, bool) {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		if models.Role(r.Messages[i].Role) == models.RoleUser {
			return models.Message{Role: models.RoleUser, Content: r.Messages[i].Content}, true
		}
	}
	return models.Message{}, false
}

func validateSampling(temperature, topP *float64, topK, maxTokens, threads, ctxSize *int) error {
	if temperature != nil && (*temperature < 0 || *temperature > 2) {
		return fmt.Errorf("temperature must be within [0, 2], got %g", *temperature)
	}
	if topP != nil && (*topP <= 0 || *topP > 1) {
		return fmt.Errorf("top_p must be within (0, 1], got %g", *topP)
	}
	if topK != nil && *topK <= 0 {
		return fmt.Errorf("top_k must be positive, got %d", *topK)
	}
	if maxTokens != nil && *maxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive, got %d", *maxTokens)
	}
	if threads != nil && *threads <= 0 {
		return fmt.Errorf("threads must be positive, got %d", *threads)
	}
	if ctxSize != nil && *ctxSize <= 0 {
		return fmt.Errorf("ctx_size must be positive, got %d", *ctxSize)
	}
	return nil
}

type completionResponse struct {
	Model        string             `json:"model"`
	CreatedAt    int64              `json:"created_at"`
	Content      string             `json:"content"`
	FinishReason llama.FinishReason `json:"finish_reason"`
}

// OpenAI-style envelope.

type chatChoice struct {
	Index        int                `json:"index"`
	Message      chatMessage        `json:"message"`
	FinishReason llama.FinishReason `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID             string       `json:"id"`
	Object         string       `json:"object"`
	Created        int64        `json:"created"`
	Model          string       `json:"model"`
	ConversationID string       `json:"conversation_id,omitempty"`
	Choices        []chatChoice `json:"choices"`
	Usage          chatUsage    `json:"usage"`
}

// streamFrame is one SSE data payload for streamed generations. The
// terminal frame carries done=true and nothing else.
type streamFrame struct {
	Model     string `json:"model,omitempty"`
	CreatedAt int64  `json:"created_at,omitempty"`
	Content   string `json:"content,omitempty"`
	Done      bool   `json:"done"`
}
