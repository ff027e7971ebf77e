package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/transport/http/middleware"
)

type Tools interface {
	Summarize(ctx context.Context, in app.SummarizeInput, sink app.Sink) (string, error)
	Translate(ctx context.Context, in app.TranslateInput, sink app.Sink) (string, error)
}

// AssistHandler serves the one-shot streaming operations. Nothing they
// produce is stored.
type AssistHandler struct {
	assistant Assistant
	tools     Tools
}

type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

type SummarizeRequest struct {
	Text         string `json:"text" binding:"required"`
	MaxWords     int    `json:"max_words"`
	ForcePersian bool   `json:"force_persian"`
}

type TranslateRequest struct {
	Text       string `json:"text" binding:"required"`
	SourceLang string `json:"source_lang" binding:"required"`
	TargetLang string `json:"target_lang" binding:"required"`
}

func NewAssistHandler(assistant Assistant, tools Tools) *AssistHandler {
	return &AssistHandler{assistant: assistant, tools: tools}
}

func (h *AssistHandler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	in := app.AskInput{TenantKey: middleware.TenantKeyFrom(c), Question: req.Question}
	streamTurn(c, func(sink app.Sink) (string, []string, error) {
		res, err := h.assistant.Ask(c.Request.Context(), in, sink)
		if err != nil {
			return "", nil, err
		}
		return res.Content, res.Sources, nil
	})
}

func (h *AssistHandler) Summarize(c *gin.Context) {
	var req SummarizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	in := app.SummarizeInput{Text: req.Text, MaxWords: req.MaxWords, ForcePersian: req.ForcePersian}
	streamTurn(c, func(sink app.Sink) (string, []string, error) {
		out, err := h.tools.Summarize(c.Request.Context(), in, sink)
		return out, nil, err
	})
}

func (h *AssistHandler) Translate(c *gin.Context) {
	var req TranslateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	in := app.TranslateInput{Text: req.Text, SourceLang: req.SourceLang, TargetLang: req.TargetLang}
	streamTurn(c, func(sink app.Sink) (string, []string, error) {
		out, err := h.tools.Translate(c.Request.Context(), in, sink)
		return out, nil, err
	})
}
