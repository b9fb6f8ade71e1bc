package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/threadline-ai/mnemos/pkg/models"
)

// invoiceReminderHorizon is how far ahead "due soon" looks when a reminder
// policy memory is active.
const invoiceReminderHorizon = 3 * 24 * time.Hour

const simpleSystemPrompt = "You are a helpful assistant. Provide a brief, friendly response."

// BuildSimplePrompt assembles the prompt for simple-mode conversation.
func BuildSimplePrompt(userMessage string, history []models.ChatMessage) models.PromptContext {
	return models.PromptContext{
		SystemPrompt:        simpleSystemPrompt,
		UserMessage:         userMessage,
		ConversationHistory: history,
	}
}

// BuildPrompt assembles the full-mode system prompt: tone guidance, PII
// directives, enumerated domain facts and memories, stale-preference and
// database-priority rules, and any active policy reminders.
func (s *Service) BuildPrompt(ctx context.Context, userMessage string,
	rc models.RetrievalContext, history []models.ChatMessage) models.PromptContext {

	var b strings.Builder

	b.WriteString("You are an intelligent business assistant with access to customer data, orders, invoices, and memory.\n")
	b.WriteString("CRITICAL: Always refer to the conversation history to understand what the user is referring to.\n")
	b.WriteString("\n")
	b.WriteString("CRITICAL PII PROTECTION RULES:\n")
	b.WriteString("1. NEVER repeat or display personal information (phone numbers, emails, SSN) in your responses\n")
	b.WriteString("2. If the user provides PII, acknowledge receipt using generic terms like 'your contact info'\n")
	b.WriteString("3. Use masked references when discussing contact information\n")
	b.WriteString("\n")

	if len(rc.DomainFacts) > 0 {
		b.WriteString("Database information:\n")
		for _, fact := range rc.DomainFacts {
			fmt.Fprintf(&b, "- %s: %v\n", fact.Table, fact.Data)
		}
		b.WriteString("\n")
	}

	if len(rc.Memories) > 0 {
		b.WriteString("Relevant memories:\n")
		for _, mem := range rc.Memories {
			fmt.Fprintf(&b, "- %s\n", mem.Text)
		}
		b.WriteString("\n")
	}

	b.WriteString("STALE PREFERENCE VALIDATION RULES:\n")
	b.WriteString("1. IF the user asks to schedule/deliver AND a preference memory is older than 90 days or weakly held\n")
	b.WriteString("2. THEN ask 'We have [preference] on record; still accurate?' before proceeding\n")
	b.WriteString("3. IF confirmed, proceed; IF changed, note the update\n")
	b.WriteString("\n")
	b.WriteString("CRITICAL DATABASE PRIORITY RULES:\n")
	b.WriteString("1. ALWAYS prefer authoritative database facts over memories\n")
	b.WriteString("2. IF database and memory disagree, use the database truth\n")
	b.WriteString("3. Always cite the database status when responding to status queries\n")
	b.WriteString("4. When you see db_memory_inconsistency facts, use the database status and mention the conflict\n")
	b.WriteString("\n")

	if reminders := s.policyReminders(ctx); len(reminders) > 0 {
		b.WriteString("ACTIVE REMINDERS:\n")
		for _, r := range reminders {
			fmt.Fprintf(&b, "- %s\n", r)
		}
		b.WriteString("\n")
	}

	return models.PromptContext{
		SystemPrompt:        b.String(),
		UserMessage:         userMessage,
		Memories:            rc.Memories,
		DomainFacts:         rc.DomainFacts,
		ConversationHistory: history,
	}
}

// policyReminders surfaces reminder policies stored as semantic memories:
// invoices due soon or overdue.
func (s *Service) policyReminders(ctx context.Context) []string {
	policies, err := s.st.SemanticMemoriesContaining(ctx, "remind")
	if err != nil {
		slog.Error("Failed to load reminder policies", "error", err)
		return nil
	}

	now := time.Now().UTC()
	var reminders []string
	for _, policy := range policies {
		lower := strings.ToLower(policy.Text)

		if strings.Contains(lower, "invoice") && strings.Contains(lower, "3 days") {
			invoices, err := s.st.OpenInvoicesDueBy(ctx, now.Add(invoiceReminderHorizon))
			if err != nil {
				slog.Error("Failed to check invoices due soon", "error", err)
				continue
			}
			if len(invoices) > 0 {
				reminders = append(reminders, fmt.Sprintf("REMINDER: %d invoices due within 3 days: %s",
					len(invoices), joinInvoiceNumbers(invoices)))
			}
			continue
		}

		if strings.Contains(lower, "overdue") {
			invoices, err := s.st.OpenInvoicesDueBy(ctx, now)
			if err != nil {
				slog.Error("Failed to check overdue invoices", "error", err)
				continue
			}
			if len(invoices) > 0 {
				reminders = append(reminders, fmt.Sprintf("REMINDER: %d invoices are overdue: %s",
					len(invoices), joinInvoiceNumbers(invoices)))
			}
		}
	}
	return reminders
}

func joinInvoiceNumbers(invoices []models.Invoice) string {
	numbers := make([]string, len(invoices))
	for i, inv := range invoices {
		numbers[i] = inv.InvoiceNumber
	}
	return strings.Join(numbers, ", ")
}
