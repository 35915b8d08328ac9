package policy

import (
	"context"
	"fmt"
	"strings"

	"github.com/garyjia/access-approval/internal/application/action"
	"github.com/garyjia/access-approval/internal/application/port"
	"github.com/garyjia/access-approval/internal/domain/entity"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

const chooserSystemPrompt = `You are the orchestrator of an IT access-request approval workflow.
Given the workflow's current state and recent history, choose the single next tool to run.
You may only choose from the tools offered in the request. Respond with a tool call, nothing else.`

// maxProposalAttempts bounds how often an invalid LLM proposal is retried
// before falling back to the deterministic rules table.
const maxProposalAttempts = 3

// LLM proposes the next action with an OpenAI chat completion using the tools
// API. Proposals outside the permitted set are retried, then delegated to the
// rules policy; the state machine remains the final authority either way.
type LLM struct {
	client   *openai.Client
	model    string
	temp     float32
	fallback *Rules
	logger   *zap.Logger
}

// NewLLM creates the OpenAI-backed policy.
func NewLLM(apiKey, model string, temperature float32, logger *zap.Logger) *LLM {
	return &LLM{
		client:   openai.NewClient(apiKey),
		model:    model,
		temp:     temperature,
		fallback: NewRules(),
		logger:   logger,
	}
}

var toolDescriptions = map[action.Name]string{
	action.CreateTicket:    "Create the tracking ticket for this access request. The first step of any new request.",
	action.NotifyApprovers: "Compute the required approvers and notify them to review the ticket.",
	action.CheckApprovals:  "Check the ticket's comments to see which required approvers have approved.",
	action.CloseTicket:     "Transition the ticket to a done state and tell the requester access is granted. The final step.",
	action.PostMessage:     "Post a status message to the requester's chat thread.",
}

// ChooseAction asks the model for the next tool call.
func (l *LLM) ChooseAction(ctx context.Context, inst *entity.WorkflowInstance, permitted []action.Name) (action.Request, error) {
	tools := make([]openai.Tool, 0, len(permitted))
	for _, name := range permitted {
		tools = append(tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        name.String(),
				Description: toolDescriptions[name],
				Parameters: map[string]interface{}{
					"type":       "object",
					"properties": map[string]interface{}{},
				},
			},
		})
	}

	req := openai.ChatCompletionRequest{
		Model:       l.model,
		Temperature: l.temp,
		Tools:       tools,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: chooserSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: l.buildPrompt(inst, permitted)},
		},
	}

	for attempt := 1; attempt <= maxProposalAttempts; attempt++ {
		resp, err := l.client.CreateChatCompletion(ctx, req)
		if err != nil {
			l.logger.Warn("LLM policy call failed, using rules fallback", zap.Error(err))
			return l.fallback.ChooseAction(ctx, inst, permitted)
		}

		proposed, reason, ok := extractToolCall(resp)
		if !ok {
			l.logger.Warn("LLM returned no tool call",
				zap.Int("attempt", attempt),
				zap.String("correlation_key", inst.CorrelationKey))
			continue
		}

		for _, p := range permitted {
			if proposed == p {
				return action.Request{Action: proposed, Reason: reason}, nil
			}
		}
		l.logger.Warn("LLM proposed disallowed tool, retrying",
			zap.Int("attempt", attempt),
			zap.String("proposed", proposed.String()))
	}

	l.logger.Warn("LLM proposals exhausted, using rules fallback",
		zap.String("correlation_key", inst.CorrelationKey))
	return l.fallback.ChooseAction(ctx, inst, permitted)
}

func (l *LLM) buildPrompt(inst *entity.WorkflowInstance, permitted []action.Name) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Request: %s needs access to %s\n", inst.Request.RequesterEmail, inst.Request.AccessRequested)
	fmt.Fprintf(&b, "Workflow state: %s\n", inst.State)
	if inst.TicketRef != "" {
		fmt.Fprintf(&b, "Ticket: %s\n", inst.TicketRef)
	}
	if len(inst.RequiredApprovers) > 0 {
		fmt.Fprintf(&b, "Required approvers: %s\n", strings.Join(inst.RequiredApprovers, ", "))
		fmt.Fprintf(&b, "Approvals recorded: %d\n", len(inst.ApprovalLedger))
	}

	b.WriteString("Recent events:\n")
	history := inst.History
	if len(history) > 10 {
		history = history[len(history)-10:]
	}
	if len(history) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, e := range history {
		fmt.Fprintf(&b, "  [%s] %s\n", e.Kind, e.Summary)
	}

	names := make([]string, len(permitted))
	for i, p := range permitted {
		names[i] = p.String()
	}
	fmt.Fprintf(&b, "Choose exactly one of: %s\n", strings.Join(names, ", "))
	return b.String()
}

func extractToolCall(resp openai.ChatCompletionResponse) (action.Name, string, bool) {
	if len(resp.Choices) == 0 {
		return "", "", false
	}
	msg := resp.Choices[0].Message
	if len(msg.ToolCalls) == 0 {
		// Some models answer with the bare tool name instead of a call
		name := action.Name(strings.ToLower(strings.TrimSpace(msg.Content)))
		if name.IsValid() {
			return name, "named in content", true
		}
		return "", "", false
	}
	return action.Name(msg.ToolCalls[0].Function.Name), "tool call", true
}

var _ port.Policy = (*LLM)(nil)
