package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"

	"ragdesk/internal/app"
	"ragdesk/internal/model"
	"ragdesk/internal/transport/http/middleware"
	"ragdesk/internal/transport/http/response"
)

type ChatService interface {
	ListChats(ctx context.Context, tenantKey string) ([]model.Chat, error)
	CreateOrTouchChat(ctx context.Context, tenantKey, chatID string) (*model.Chat, error)
	RenameChat(ctx context.Context, tenantKey, chatID, title string) error
	DeleteChat(ctx context.Context, tenantKey, chatID string) error
	History(ctx context.Context, tenantKey, chatID string, limit int) ([]model.Message, error)
}

type Assistant interface {
	SendMessage(ctx context.Context, in app.SendMessageInput, sink app.Sink) (*app.TurnResult, error)
	Ask(ctx context.Context, in app.AskInput, sink app.Sink) (*app.TurnResult, error)
}

type TitleGenerator interface {
	GenerateTitle(ctx context.Context, in app.TitleInput) (string, error)
}

type ChatHandler struct {
	chats     ChatService
	assistant Assistant
	titles    TitleGenerator
}

type CreateChatRequest struct {
	ChatID string `json:"chat_id" binding:"max=64"`
}

type RenameChatRequest struct {
	Title string `json:"title" binding:"required,max=256"`
}

type SendMessageRequest struct {
	Content string `json:"content" binding:"required"`
}

type GenerateTitleRequest struct {
	FirstMessage string `json:"first_message" binding:"required"`
}

func NewChatHandler(chats ChatService, assistant Assistant, titles TitleGenerator) *ChatHandler {
	return &ChatHandler{chats: chats, assistant: assistant, titles: titles}
}

func (h *ChatHandler) List(c *gin.Context) {
	chats, err := h.chats.ListChats(c.Request.Context(), middleware.TenantKeyFrom(c))
	if err != nil {
		fail(c, err, "list chats failed")
		return
	}
	response.OK(c, chats)
}

func (h *ChatHandler) Create(c *gin.Context) {
	var req CreateChatRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, "invalid request payload")
			return
		}
	}
	chat, err := h.chats.CreateOrTouchChat(c.Request.Context(), middleware.TenantKeyFrom(c), req.ChatID)
	if err != nil {
		fail(c, err, "create chat failed")
		return
	}
	response.OK(c, chat)
}

func (h *ChatHandler) Rename(c *gin.Context) {
	var req RenameChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	if err := h.chats.RenameChat(c.Request.Context(), middleware.TenantKeyFrom(c), c.Param("id"), req.Title); err != nil {
		fail(c, err, "rename chat failed")
		return
	}
	response.OK(c, gin.H{"chat_id": c.Param("id")})
}

func (h *ChatHandler) Delete(c *gin.Context) {
	if err := h.chats.DeleteChat(c.Request.Context(), middleware.TenantKeyFrom(c), c.Param("id")); err != nil {
		fail(c, err, "delete chat failed")
		return
	}
	response.OK(c, gin.H{"deleted_chat_id": c.Param("id")})
}

func (h *ChatHandler) History(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			badRequest(c, "invalid limit")
			return
		}
		limit = parsed
	}
	history, err := h.chats.History(c.Request.Context(), middleware.TenantKeyFrom(c), c.Param("id"), limit)
	if err != nil {
		fail(c, err, "get history failed")
		return
	}
	response.OK(c, history)
}

// SendMessage streams the assistant's answer as server-sent events.
func (h *ChatHandler) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	in := app.SendMessageInput{
		TenantKey: middleware.TenantKeyFrom(c),
		ChatID:    c.Param("id"),
		Content:   req.Content,
	}
	streamTurn(c, func(sink app.Sink) (string, []string, error) {
		res, err := h.assistant.SendMessage(c.Request.Context(), in, sink)
		if err != nil {
			return "", nil, err
		}
		return res.Content, res.Sources, nil
	})
}

func (h *ChatHandler) GenerateTitle(c *gin.Context) {
	var req GenerateTitleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request payload")
		return
	}
	title, err := h.titles.GenerateTitle(c.Request.Context(), app.TitleInput{
		TenantKey:    middleware.TenantKeyFrom(c),
		ChatID:       c.Param("id"),
		FirstMessage: req.FirstMessage,
	})
	if err != nil {
		fail(c, err, "generate title failed")
		return
	}
	response.OK(c, gin.H{"chat_id": c.Param("id"), "title": title})
}
