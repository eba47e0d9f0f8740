package rag

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"

	"scriptoria/internal/helper"
	"scriptoria/internal/llmservice"
	"scriptoria/internal/models"
)

var (
	thinkRe        = regexp.MustCompile(models.ThinkTag)
	doubleEscapeRe = regexp.MustCompile(models.DoubleEscapeRegex)
)

type GenerateRequest struct {
	Original string
	Refined  string
	Contexts []string
	History  []models.ConversationTurn
	Pages    []int
}

// Generator writes the final answer from the retrieved contexts.
type Generator struct {
	llm     llms.Model
	timeout time.Duration
}

func NewGenerator(llm llms.Model, timeout time.Duration) *Generator {
	return &Generator{llm: llm, timeout: timeout}
}

// Generate always returns text for the user. Failures, timeouts included,
// come back as an apology that carries the error.
func (g *Generator) Generate(ctx context.Context, req GenerateRequest) string {
	answer, err := g.generate(ctx, req)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("Answer generation failed")
		return fmt.Sprintf(models.ApologyTemplate, err)
	}
	return answer
}

func (g *Generator) generate(ctx context.Context, req GenerateRequest) (string, error) {
	prompt := BuildAnswerPrompt(req)

	start := time.Now()
	out, err := llmservice.GenerateContent(ctx, g.llm, prompt, g.timeout)
	if errors.Is(err, llmservice.ErrTimeout) {
		return "", fmt.Errorf("%w: %w", ErrGenerationTimeout, err)
	}
	if err != nil {
		return "", err
	}
	log.Ctx(ctx).Debug().Int("prompt_chars", len(prompt)).Dur("took", time.Since(start)).Msg("Model answered")

	answer := cleanAnswer(out)
	if answer == "" {
		return "", errors.New("model returned an empty answer")
	}
	if len(req.Pages) > 0 {
		cited := req.Pages[:min(len(req.Pages), models.MaxCitedPages)]
		answer += fmt.Sprintf(models.CitationFooterTemplate, helper.JoinInts(cited))
	}
	return answer, nil
}

// BuildAnswerPrompt assembles the instruction block, conversation, contexts,
// source pages and question.
func BuildAnswerPrompt(req GenerateRequest) string {
	var sourcePages string
	if len(req.Pages) > 0 {
		sourcePages = "**Source Pages:** " + helper.JoinInts(req.Pages) + "\n\n"
	}
	question := req.Refined
	if question == "" {
		question = req.Original
	}
	return models.AnswerInstructions + fmt.Sprintf(models.AnswerBodyTemplate,
		formatHistory(req.History),
		strings.Join(req.Contexts, models.ContextSeparator),
		sourcePages,
		question)
}

// formatHistory renders the most recent turns, one line per turn.
func formatHistory(history []models.ConversationTurn) string {
	if len(history) > models.MaxHistoryTurns {
		history = history[len(history)-models.MaxHistoryTurns:]
	}
	var b strings.Builder
	for _, turn := range history {
		content := turn.Content
		if helper.RuneLen(content) > models.MaxTurnChars {
			content = helper.TruncateRunes(content, models.MaxTurnChars) + models.TruncationMarker
		}
		switch turn.Role {
		case models.RoleUser:
			b.WriteString("User: " + content + "\n")
		case models.RoleAssistant:
			b.WriteString("Assistant: " + content + "\n")
		}
	}
	if b.Len() == 0 {
		return ""
	}
	return "Previous conversation:\n" + b.String() + "\n"
}

func cleanAnswer(text string) string {
	text = thinkRe.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	return doubleEscapeRe.ReplaceAllString(text, `\${1}`)
}
