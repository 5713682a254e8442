package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"bitnetgo/internal/cache"
	"bitnetgo/internal/llama"
	"bitnetgo/internal/models"
	"bitnetgo/internal/prompt"
	"bitnetgo/internal/storage"
	"bitnetgo/internal/store"
	"bitnetgo/internal/worker"
)

// Generator abstracts the inference invoker so tests can run against a
// mock without spawning processes.
type Generator interface {
	Complete(ctx context.Context, p llama.Params) (*llama.Result, error)
	Stream(ctx context.Context, p llama.Params) (<-chan llama.Chunk, error)
}

// Handler wires HTTP routes to the conversation store and the
// generation invoker.
type Handler struct {
	store     *store.Store
	generator Generator
	gate      *worker.Gate
	cache     *cache.Cache
	audit     *storage.AuditLog
	modelName string
	log       zerolog.Logger
}

// NewHandler constructs a Handler instance. cache and audit may be nil;
// both degrade to no-ops.
func NewHandler(st *store.Store, gen Generator, gate *worker.Gate, cc *cache.Cache, audit *storage.AuditLog, modelName string, log zerolog.Logger) *Handler {
	return &Handler{
		store:     st,
		generator: gen,
		gate:      gate,
		cache:     cc,
		audit:     audit,
		modelName: modelName,
		log:       log.With().Str("component", "api").Logger(),
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/", h.root)
	router.POST("/completion", h.completion)

	v1 := router.Group("/v1")
	v1.POST("/chat/completions", h.chatCompletions)
	v1.POST("/conversations", h.createConversation)
	v1.GET("/conversations/:id", h.getConversation)
	v1.POST("/conversations/:id/chat", h.conversationChat)
}

func (h *Handler) root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"message": "BitNet API server is running"})
}

func (h *Handler) completion(c *gin.Context) {
	var req completionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	params := req.params()

	if req.Stream {
		h.streamGeneration(c, params, "/completion", "", nil)
		return
	}

	key := cache.Key(params)
	if res, err := h.cache.GetResult(c.Request.Context(), key); err == nil {
		c.JSON(http.StatusOK, completionResponse{
			Model:        h.modelName,
			CreatedAt:    time.Now().Unix(),
			Content:      res.Content,
			FinishReason: res.FinishReason,
		})
		return
	}

	res, err := h.invoke(c, params, "/completion", "")
	if err != nil {
		h.generationError(c, err)
		return
	}
	if err := h.cache.SetResult(c.Request.Context(), key, res); err != nil {
		h.log.Warn().Err(err).Msg("completion cache write failed")
	}
	c.JSON(http.StatusOK, completionResponse{
		Model:        h.modelName,
		CreatedAt:    time.Now().Unix(),
		Content:      res.Content,
		FinishReason: res.FinishReason,
	})
}

func (h *Handler) chatCompletions(c *gin.Context) {
	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	// Stateless: the prompt comes from the supplied messages only and
	// nothing is recorded in any conversation.
	params := req.params(prompt.Assemble(req.history()))

	if req.Stream {
		h.streamGeneration(c, params, "/v1/chat/completions", "", nil)
		return
	}

	res, err := h.invoke(c, params, "/v1/chat/completions", "")
	if err != nil {
		h.generationError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.chatResponse(res, ""))
}

func (h *Handler) createConversation(c *gin.Context) {
	id := h.store.Create()
	h.log.Info().Str("conversation_id", id).Msg("conversation created")
	c.JSON(http.StatusOK, gin.H{"conversation_id": id})
}

func (h *Handler) getConversation(c *gin.Context) {
	id := c.Param("id")
	messages, err := h.store.Get(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	createdAt, _ := h.store.CreatedAt(id)
	c.JSON(http.StatusOK, models.Conversation{
		ID:        id,
		Messages:  messages,
		CreatedAt: createdAt,
	})
}

func (h *Handler) conversationChat(c *gin.Context) {
	id := c.Param("id")

	var req chatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid request body"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	userMsg, ok := req.lastUserMessage()
	if !ok {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "a user message is required"})
		return
	}

	// Hold the conversation for the whole read-generate-append cycle
	// so concurrent chats against the same id cannot interleave.
	release, err := h.store.Acquire(id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	defer release()

	history, err := h.store.Get(id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// The user turn is committed before generation; if generation
	// fails the caller can retry without resubmitting it.
	if err := h.store.Append(id, userMsg); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	assembled := prompt.Assemble(append(history, userMsg))
	params := req.params(assembled)

	if req.Stream {
		h.streamGeneration(c, params, "/v1/conversations/chat", id, func(full string) {
			if err := h.store.Append(id, models.Message{Role: models.RoleAssistant, Content: full}); err != nil {
				h.log.Error().Err(err).Str("conversation_id", id).Msg("append streamed assistant reply failed")
			}
		})
		return
	}

	res, err := h.invoke(c, params, "/v1/conversations/chat", id)
	if err != nil {
		h.generationError(c, err)
		return
	}
	if err := h.store.Append(id, models.Message{Role: models.RoleAssistant, Content: res.Content}); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.chatResponse(res, id))
}

// invoke runs one gated, audited, non-streaming generation.
func (h *Handler) invoke(c *gin.Context, params llama.Params, endpoint, conversationID string) (*llama.Result, error) {
	ctx := c.Request.Context()
	release, err := h.gate.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	res, err := h.generator.Complete(ctx, params)
	elapsed := time.Since(start)
	if err != nil {
		h.audit.Record(context.Background(), storage.Invocation{
			Endpoint:       endpoint,
			ConversationID: conversationID,
			PromptChars:    len(params.Prompt),
			FinishReason:   string(llama.FinishError),
			Duration:       elapsed,
		})
		return nil, err
	}
	h.audit.Record(context.Background(), storage.Invocation{
		Endpoint:       endpoint,
		ConversationID: conversationID,
		PromptChars:    len(params.Prompt),
		OutputChars:    len(res.Content),
		FinishReason:   string(res.FinishReason),
		Duration:       elapsed,
	})
	return res, nil
}

// streamGeneration runs a gated streaming generation and forwards
// fragments as SSE data frames. onComplete runs only when the sequence
// ended cleanly, with the full accumulated text; a disconnect or a
// mid-stream failure commits nothing and emits no terminal done frame.
func (h *Handler) streamGeneration(c *gin.Context, params llama.Params, endpoint, conversationID string, onComplete func(string)) {
	ctx := c.Request.Context()

	release, err := h.gate.Acquire(ctx)
	if err != nil {
		h.generationError(c, err)
		return
	}
	defer release()

	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	chunks, err := h.generator.Stream(ctx, params)
	if err != nil {
		h.generationError(c, err)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	sendFrame := func(payload interface{}) error {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	start := time.Now()
	var full strings.Builder
	clean := true
	for chunk := range chunks {
		if chunk.Err != nil {
			h.log.Error().Err(chunk.Err).Str("endpoint", endpoint).Msg("stream failed")
			_ = sendFrame(gin.H{"error": chunk.Err.Error()})
			clean = false
			break
		}
		if full.Len() > 0 {
			full.WriteByte('\n')
		}
		full.WriteString(chunk.Content)

		content := strings.TrimSpace(chunk.Content)
		if content == "" {
			continue
		}
		if err := sendFrame(streamFrame{
			Model:     h.modelName,
			CreatedAt: time.Now().Unix(),
			Content:   content,
		}); err != nil {
			// Client went away; context cancellation kills the process.
			clean = false
			break
		}
	}
	if ctx.Err() != nil {
		clean = false
	}

	text := strings.TrimSpace(full.String())
	finish := llama.FinishError
	if clean {
		finish = llama.FinishStop
	}
	h.audit.Record(context.Background(), storage.Invocation{
		Endpoint:       endpoint,
		ConversationID: conversationID,
		PromptChars:    len(params.Prompt),
		OutputChars:    len(text),
		FinishReason:   string(finish),
		Duration:       time.Since(start),
	})
	if !clean {
		return
	}

	if onComplete != nil {
		onComplete(text)
	}
	_ = sendFrame(streamFrame{Done: true})
}

func (h *Handler) chatResponse(res *llama.Result, conversationID string) chatCompletionResponse {
	now := time.Now().Unix()
	return chatCompletionResponse{
		ID:             fmt.Sprintf("chatcmpl-%d", now),
		Object:         "chat.completion",
		Created:        now,
		Model:          h.modelName,
		ConversationID: conversationID,
		Choices: []chatChoice{
			{
				Index: 0,
				Message: chatMessage{
					Role:    string(models.RoleAssistant),
					Content: res.Content,
				},
				FinishReason: res.FinishReason,
			},
		},
		Usage: chatUsage{},
	}
}

func (h *Handler) generationError(c *gin.Context, err error) {
	if errors.Is(err, worker.ErrBusy) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "server is busy, please retry"})
		return
	}
	var invErr *llama.InvocationError
	if errors.As(err, &invErr) {
		h.log.Error().Err(err).Str("kind", string(invErr.Kind)).Msg("generation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": invErr.Error()})
		return
	}
	h.log.Error().Err(err).Msg("generation failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
