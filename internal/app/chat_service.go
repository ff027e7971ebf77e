package app

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"ragdesk/internal/ai"
	"ragdesk/internal/logging"
	"ragdesk/internal/model"
	"ragdesk/internal/pkg/tenantkey"
	"ragdesk/internal/repository"
)

const maxTitleLength = 256

type HistoryCache interface {
	GetHistory(ctx context.Context, tenant, chatID string) ([]model.Message, bool, error)
	SetHistory(ctx context.Context, tenant, chatID string, messages []model.Message) error
	DeleteHistory(ctx context.Context, tenant, chatID string) error
	IsDirty(ctx context.Context, tenant, chatID string) (bool, error)
	DeleteTenant(ctx context.Context, tenant string) error
}

// ChatService is the conversation store: chats, their append-only
// messages and the cached history window.
type ChatService struct {
	store        *repository.Store
	historyCache HistoryCache
	limits       Limits
	historyLimit int
	log          logging.Logger
	now          func() time.Time
}

func NewChatService(store *repository.Store, historyCache HistoryCache, limits Limits, historyLimit int, log logging.Logger) *ChatService {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &ChatService{
		store:        store,
		historyCache: historyCache,
		limits:       limits,
		historyLimit: historyLimit,
		log:          log.With("component", "chat"),
		now:          time.Now,
	}
}

func (s *ChatService) ListChats(ctx context.Context, tenantKey string) ([]model.Chat, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return nil, err
	}
	return s.store.Chats().ListByTenant(ctx, key)
}

// CreateOrTouchChat returns the chat, creating it when it does not exist yet.
// An empty chatID gets a generated one.
func (s *ChatService) CreateOrTouchChat(ctx context.Context, tenantKey, chatID string) (*model.Chat, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return nil, err
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		chatID = uuid.NewString()
	}
	if len(chatID) > 64 {
		return nil, ErrInvalidInput
	}

	now := s.now()
	chat, err := s.store.Chats().Get(ctx, key, chatID)
	if err != nil {
		return nil, err
	}
	if chat != nil {
		if err := s.store.Chats().Touch(ctx, key, chatID, now); err != nil {
			return nil, err
		}
		chat.LastMessageAt = now
		return chat, nil
	}

	chat = &model.Chat{
		TenantKey:     key,
		ChatID:        chatID,
		Title:         model.DefaultChatTitle,
		CreatedAt:     now,
		LastMessageAt: now,
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Tenants().Touch(ctx, key, now); err != nil {
			return err
		}
		if err := tx.Chats().Create(ctx, chat); err != nil {
			return err
		}
		return tx.Tenants().AddChats(ctx, key, 1)
	})
	if err != nil {
		// lost a creation race for the same id
		if existing, getErr := s.store.Chats().Get(ctx, key, chatID); getErr == nil && existing != nil {
			return existing, nil
		}
		return nil, err
	}
	return chat, nil
}

func (s *ChatService) RenameChat(ctx context.Context, tenantKey, chatID, title string) error {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return err
	}
	title = strings.Join(strings.Fields(title), " ")
	if title == "" {
		return ErrInvalidInput
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		title = string([]rune(title)[:maxTitleLength])
	}
	if _, err := s.requireChat(ctx, key, chatID); err != nil {
		return err
	}
	return s.store.Chats().Rename(ctx, key, chatID, title)
}

func (s *ChatService) DeleteChat(ctx context.Context, tenantKey, chatID string) error {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return err
	}
	if _, err := s.requireChat(ctx, key, chatID); err != nil {
		return err
	}
	err = s.store.WithTx(ctx, func(tx *repository.Store) error {
		if err := tx.Messages().DeleteByChat(ctx, key, chatID); err != nil {
			return err
		}
		n, err := tx.Chats().Delete(ctx, key, chatID)
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		return tx.Tenants().AddChats(ctx, key, -1)
	})
	if err != nil {
		return err
	}
	s.dropCache(ctx, key, chatID)
	return nil
}

// History returns up to limit most recent messages in insertion order.
func (s *ChatService) History(ctx context.Context, tenantKey, chatID string, limit int) ([]model.Message, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return nil, err
	}
	if _, err := s.requireChat(ctx, key, chatID); err != nil {
		return nil, err
	}
	return s.history(ctx, key, chatID, limit)
}

func (s *ChatService) history(ctx context.Context, key, chatID string, limit int) ([]model.Message, error) {
	if limit <= 0 || limit > s.historyLimit {
		limit = s.historyLimit
	}

	if s.historyCache != nil {
		cached, hit, err := s.historyCache.GetHistory(ctx, key, chatID)
		if err != nil {
			s.log.Warn(ctx, "history cache read failed", "tenant", tenantkey.Fingerprint(key), "err", err)
		} else if hit {
			return trimMessages(cached, limit), nil
		}
	}

	messages, err := s.store.Messages().ListRecent(ctx, key, chatID, s.historyLimit)
	if err != nil {
		return nil, err
	}
	if s.historyCache != nil {
		s.fillCache(ctx, key, chatID, messages)
	}
	return trimMessages(messages, limit), nil
}

// AppendMessage inserts one message into a chat owned by the tenant. It fails
// closed when the (tenant, chat) pair does not exist.
func (s *ChatService) AppendMessage(ctx context.Context, tenantKey, chatID, role, content string) (*model.Message, error) {
	key, err := s.limits.tenant(tenantKey)
	if err != nil {
		return nil, err
	}
	if role != model.RoleUser && role != model.RoleAssistant {
		return nil, ErrInvalidInput
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrMessageEmpty
	}
	if _, err := s.requireChat(ctx, key, chatID); err != nil {
		return nil, err
	}

	now := s.now()
	msg := &model.Message{
		TenantKey: key,
		ChatID:    chatID,
		Role:      role,
		Content:   content,
		CreatedAt: now,
	}
	if err := s.store.Messages().Create(ctx, msg); err != nil {
		return nil, err
	}
	s.dropCache(ctx, key, chatID)

	if err := s.store.Chats().Touch(ctx, key, chatID, now); err != nil {
		s.log.Warn(ctx, "touch chat failed", "tenant", tenantkey.Fingerprint(key), "err", err)
	}
	if err := s.store.Tenants().Touch(ctx, key, now); err != nil {
		s.log.Warn(ctx, "touch tenant failed", "tenant", tenantkey.Fingerprint(key), "err", err)
	}
	return msg, nil
}

func (s *ChatService) requireChat(ctx context.Context, key, chatID string) (*model.Chat, error) {
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return nil, ErrChatNotFound
	}
	chat, err := s.store.Chats().Get(ctx, key, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, ErrChatNotFound
	}
	return chat, nil
}

// fillCache stores a freshly loaded window unless an append invalidated the
// chat meanwhile. The cache itself refuses the write while the marker exists.
func (s *ChatService) fillCache(ctx context.Context, key, chatID string, messages []model.Message) {
	dirty, err := s.historyCache.IsDirty(ctx, key, chatID)
	if err != nil {
		s.log.Warn(ctx, "history cache dirty check failed", "tenant", tenantkey.Fingerprint(key), "err", err)
		return
	}
	if dirty {
		return
	}
	if err := s.historyCache.SetHistory(ctx, key, chatID, messages); err != nil {
		s.log.Warn(ctx, "history cache write failed", "tenant", tenantkey.Fingerprint(key), "err", err)
	}
}

func (s *ChatService) dropCache(ctx context.Context, key, chatID string) {
	if s.historyCache == nil {
		return
	}
	if err := s.historyCache.DeleteHistory(ctx, key, chatID); err != nil {
		s.log.Warn(ctx, "history cache invalidation failed", "tenant", tenantkey.Fingerprint(key), "err", err)
	}
}

func trimMessages(messages []model.Message, limit int) []model.Message {
	if limit <= 0 || limit >= len(messages) {
		return messages
	}
	return messages[len(messages)-limit:]
}

// Compact collapses runs of same-role messages into one turn. Within a run
// the latest message wins, for every role.
func Compact(history []model.Message) []ai.ChatMessage {
	out := make([]ai.ChatMessage, 0, len(history))
	for _, m := range history {
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out[n-1].Content = content
			continue
		}
		out = append(out, ai.ChatMessage{Role: m.Role, Content: content})
	}
	return out
}
