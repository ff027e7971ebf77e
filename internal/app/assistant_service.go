package app

import (
	"context"
	"strings"

	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
)

type TitleJobPublisher interface {
	PublishTitleJob(ctx context.Context, job model.TitleJob) error
}

type AssistantOptions struct {
	ChatTopK int
	AskTopK  int
}

// AssistantService runs grounded turns: retrieval, prompt assembly and the
// streaming relay, plus persistence of the finished answer.
type AssistantService struct {
	chats     *ChatService
	retriever *Retriever
	relay     *Relay
	titles    TitleJobPublisher
	limits    Limits
	opts      AssistantOptions
	log       logging.Logger
}

func NewAssistantService(
	chats *ChatService,
	retriever *Retriever,
	relay *Relay,
	titles TitleJobPublisher,
	limits Limits,
	opts AssistantOptions,
	log logging.Logger,
) *AssistantService {
	if opts.ChatTopK <= 0 {
		opts.ChatTopK = 8
	}
	if opts.AskTopK <= 0 {
		opts.AskTopK = 5
	}
	return &AssistantService{
		chats:     chats,
		retriever: retriever,
		relay:     relay,
		titles:    titles,
		limits:    limits,
		opts:      opts,
		log:       log.With("component", "assistant"),
	}
}

type SendMessageInput struct {
	TenantKey string
	ChatID    string
	Content   string
}

type TurnResult struct {
	Content   string   `json:"content"`
	Sources   []string `json:"sources"`
	Persisted bool     `json:"persisted"`
}

// SendMessage stores the user turn, streams a grounded answer into sink and
// stores the answer once the stream ended naturally with non-empty text.
// A failed or abandoned turn stores no assistant message.
func (s *AssistantService) SendMessage(ctx context.Context, in SendMessageInput, sink Sink) (*TurnResult, error) {
	key, err := s.limits.tenant(in.TenantKey)
	if err != nil {
		return nil, err
	}
	content := strings.TrimSpace(in.Content)
	if content == "" {
		return nil, ErrMessageEmpty
	}
	log := s.log.With("tenant", tenantkey.Fingerprint(key), "op", "send_message", "chat_id", in.ChatID)

	history, err := s.chats.History(ctx, key, in.ChatID, 0)
	if err != nil {
		return nil, err
	}
	// counted in the database; the history window may come from the cache
	stored, err := s.chats.store.Messages().CountByChat(ctx, key, in.ChatID)
	if err != nil {
		return nil, err
	}
	if _, err := s.chats.AppendMessage(ctx, key, in.ChatID, model.RoleUser, content); err != nil {
		return nil, err
	}
	if stored == 0 {
		s.requestTitle(ctx, log, model.TitleJob{TenantKey: key, ChatID: in.ChatID, FirstMessage: content})
	}

	retrieval := s.retriever.Retrieve(ctx, key, content, s.opts.ChatTopK)
	prompt := BuildPrompt(retrieval, Compact(history), content)

	full, err := s.relay.Stream(ctx, prompt, sink)
	if err != nil {
		log.Warn(ctx, "turn failed, answer not stored", "err", err)
		return nil, err
	}

	result := &TurnResult{Content: full, Sources: retrieval.Sources}
	answer := strings.TrimSpace(full)
	if answer == "" {
		log.Warn(ctx, "backend produced an empty answer")
		return result, nil
	}
	// the answer is complete; a disconnect after the last delta must not lose it
	if _, err := s.chats.AppendMessage(context.WithoutCancel(ctx), key, in.ChatID, model.RoleAssistant, answer); err != nil {
		log.Error(ctx, "store assistant message failed", "err", err)
		return result, err
	}
	result.Persisted = true
	return result, nil
}

func (s *AssistantService) requestTitle(ctx context.Context, log logging.Logger, job model.TitleJob) {
	if s.titles == nil {
		return
	}
	if err := s.titles.PublishTitleJob(ctx, job); err != nil {
		log.Warn(ctx, "publish title job failed, keeping default title", "err", err)
	}
}

type AskInput struct {
	TenantKey string
	Question  string
}

// Ask answers one question grounded in the tenant's files. Nothing is stored.
func (s *AssistantService) Ask(ctx context.Context, in AskInput, sink Sink) (*TurnResult, error) {
	key, err := s.limits.tenant(in.TenantKey)
	if err != nil {
		return nil, err
	}
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return nil, ErrMessageEmpty
	}

	retrieval := s.retriever.Retrieve(ctx, key, question, s.opts.AskTopK)
	prompt := BuildPrompt(retrieval, nil, question)
	full, err := s.relay.Stream(ctx, prompt, sink)
	if err != nil {
		return nil, err
	}
	return &TurnResult{Content: full, Sources: retrieval.Sources}, nil
}
