package app

import (
	"context"
	"strings"
	"unicode/utf8"

	"ragdesk/internal/ai"
	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
)

const titleInstruction = "Write a short title of at most six words for a conversation that starts with the user's message. Reply with the title only, in the language of the message, without quotes."

type TitleService struct {
	chats    *ChatService
	relay    *Relay
	maxRunes int
	log      logging.Logger
}

func NewTitleService(chats *ChatService, relay *Relay, maxRunes int, log logging.Logger) *TitleService {
	if maxRunes <= 0 {
		maxRunes = 40
	}
	return &TitleService{chats: chats, relay: relay, maxRunes: maxRunes, log: log.With("component", "title")}
}

type TitleInput struct {
	TenantKey    string
	ChatID       string
	FirstMessage string
	// OnlyIfDefault leaves chats the user already renamed alone.
	OnlyIfDefault bool
}

// GenerateTitle names the chat from its first message. Backend failures are
// not errors: the chat gets the default title instead.
func (s *TitleService) GenerateTitle(ctx context.Context, in TitleInput) (string, error) {
	key, err := s.chats.limits.tenant(in.TenantKey)
	if err != nil {
		return "", err
	}
	first := strings.TrimSpace(in.FirstMessage)
	if first == "" {
		return "", ErrMessageEmpty
	}
	chat, err := s.chats.requireChat(ctx, key, in.ChatID)
	if err != nil {
		return "", err
	}
	if in.OnlyIfDefault && chat.Title != model.DefaultChatTitle {
		return chat.Title, nil
	}

	raw, err := s.relay.Complete(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: titleInstruction},
		{Role: ai.RoleUser, Content: first},
	})
	if err != nil {
		s.log.Warn(ctx, "title generation failed, using default", "tenant", tenantkey.Fingerprint(key), "err", err)
	}
	title := CleanTitle(raw, s.maxRunes)

	if !in.OnlyIfDefault {
		if err := s.chats.store.Chats().Rename(ctx, key, chat.ChatID, title); err != nil {
			return "", err
		}
		return title, nil
	}

	renamed, err := s.chats.store.Chats().RenameIfTitle(ctx, key, chat.ChatID, model.DefaultChatTitle, title)
	if err != nil {
		return "", err
	}
	if renamed {
		return title, nil
	}
	// renamed or deleted while the backend was answering
	current, err := s.chats.requireChat(ctx, key, chat.ChatID)
	if err != nil {
		return "", err
	}
	return current.Title, nil
}

// CleanTitle strips wrapping quotes, collapses whitespace and falls back to
// the default title when the result is empty or longer than maxRunes.
func CleanTitle(raw string, maxRunes int) string {
	title := strings.Join(strings.Fields(raw), " ")
	for {
		trimmed := strings.Trim(title, "\"'`«»“”‘’ ")
		if trimmed == title {
			break
		}
		title = trimmed
	}
	title = strings.TrimSuffix(title, ".")
	if title == "" || utf8.RuneCountInString(title) > maxRunes {
		return model.DefaultChatTitle
	}
	return title
}
