package pipeline

import (
	"context"
	"fmt"
	"strings"

	"protoscribe/internal/llm"

	"go.uber.org/zap"
)

// GenerateInput carries everything the protocol generator needs for one
// meeting.
type GenerateInput struct {
	Template     Template
	Transcript   string
	Language     string
	Participants []Participant
	MeetingTopic string
	MeetingDate  string
	MeetingTime  string
	Speakers     map[string]string
}

// Generator produces the final protocol text from a transcript.
type Generator interface {
	Generate(ctx context.Context, in GenerateInput) (string, error)
}

// LLMGenerator implements Generator on a chat-completion client.
type LLMGenerator struct {
	client llm.Client
	model  string
	logger *zap.Logger
}

func NewLLMGenerator(client llm.Client, model string, logger *zap.Logger) *LLMGenerator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMGenerator{
		client: client,
		model:  model,
		logger: logger.Named("generator"),
	}
}

func (g *LLMGenerator) Generate(ctx context.Context, in GenerateInput) (string, error) {
	req := &llm.ChatRequest{
		Model: g.model,
		Messages: []llm.ChatMessage{
			{Role: llm.RoleSystem, Content: systemPrompt(in)},
			{Role: llm.RoleUser, Content: userPrompt(in)},
		},
		Temperature: 0.2,
	}

	resp, err := g.client.ChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate protocol: %w", err)
	}

	protocol := strings.TrimSpace(resp.Choices[0].Message.Content)
	if protocol == "" {
		return "", fmt.Errorf("generate protocol: provider returned empty protocol")
	}

	g.logger.Debug("protocol generated",
		zap.String("model", resp.Model),
		zap.Int("protocol_len", len(protocol)),
	)

	return protocol, nil
}

func systemPrompt(in GenerateInput) string {
	var b strings.Builder
	b.WriteString("You write meeting protocols from transcripts. ")
	b.WriteString("Follow the structure below exactly. ")
	b.WriteString("Do not invent content that is not in the transcript.\n\n")
	b.WriteString(in.Template.Content)
	if in.Language != "" {
		fmt.Fprintf(&b, "\n\nWrite the protocol in language: %s.", in.Language)
	}
	return b.String()
}

func userPrompt(in GenerateInput) string {
	var b strings.Builder

	if in.MeetingTopic != "" {
		fmt.Fprintf(&b, "Topic: %s\n", in.MeetingTopic)
	}
	if in.MeetingDate != "" {
		fmt.Fprintf(&b, "Date: %s\n", in.MeetingDate)
	}
	if in.MeetingTime != "" {
		fmt.Fprintf(&b, "Time: %s\n", in.MeetingTime)
	}

	if len(in.Participants) > 0 {
		b.WriteString("Participants:\n")
		for _, p := range in.Participants {
			if p.Role != "" {
				fmt.Fprintf(&b, "- %s (%s)\n", p.Name, p.Role)
			} else {
				fmt.Fprintf(&b, "- %s\n", p.Name)
			}
		}
	}

	if len(in.Speakers) > 0 {
		b.WriteString("Speaker names:\n")
		for _, kv := range sortedMapping(in.Speakers) {
			fmt.Fprintf(&b, "- %s = %s\n", kv[0], kv[1])
		}
	}

	b.WriteString("\nTranscript:\n")
	b.WriteString(in.Transcript)

	return b.String()
}
