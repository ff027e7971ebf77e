package app

import (
	"context"
	"fmt"
	"strings"

	"ragdesk/internal/ai"
)

const (
	defaultSummaryWords = 150
	minSummaryWords     = 20
	maxSummaryWords     = 1000
)

const persianTypography = "When writing Persian: use Persian guillemets «» instead of straight quotes, and Persian digits in running text while keeping Latin digits in formulas, code, dates and technical values."

// ToolService streams one-shot text tools through the same relay as chat.
// Nothing it produces is stored.
type ToolService struct {
	relay *Relay
}

func NewToolService(relay *Relay) *ToolService {
	return &ToolService{relay: relay}
}

type SummarizeInput struct {
	Text         string
	MaxWords     int
	ForcePersian bool
}

func (s *ToolService) Summarize(ctx context.Context, in SummarizeInput, sink Sink) (string, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", ErrMessageEmpty
	}
	words := in.MaxWords
	switch {
	case words <= 0:
		words = defaultSummaryWords
	case words < minSummaryWords:
		words = minSummaryWords
	case words > maxSummaryWords:
		words = maxSummaryWords
	}

	system := "You are an accurate summarizer. Output only the summary, with no introduction or commentary. The summary must read fluently."
	var user string
	if in.ForcePersian {
		system += "\n" + persianTypography + "\nAlways summarize in Persian, whatever the input language."
		user = fmt.Sprintf("Summarize the following text in Persian in at most %d words:\n\n%s", words, text)
	} else {
		system += "\nSummarize in the language of the input and follow its typographic conventions."
		user = fmt.Sprintf("Summarize the following text in its original language in at most %d words:\n\n%s", words, text)
	}

	return s.relay.Stream(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: user},
	}, sink)
}

type TranslateInput struct {
	Text       string
	SourceLang string
	TargetLang string
}

func (s *ToolService) Translate(ctx context.Context, in TranslateInput, sink Sink) (string, error) {
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", ErrMessageEmpty
	}
	source := strings.TrimSpace(in.SourceLang)
	target := strings.TrimSpace(in.TargetLang)
	if source == "" || target == "" || strings.EqualFold(source, target) {
		return "", ErrInvalidInput
	}

	system := "You are a precise translator. Output only the translation, with no notes or explanation.\n" + persianTypography
	user := fmt.Sprintf("Translate from %s to %s: %s", source, target, text)

	return s.relay.Stream(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: system},
		{Role: ai.RoleUser, Content: user},
	}, sink)
}
