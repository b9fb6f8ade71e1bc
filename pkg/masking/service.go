// Package masking detects and masks personal identifiers in user messages
// before they reach the LLM or the memory store.
package masking

import (
	"log/slog"
	"strings"
)

// Match is one detected PII occurrence.
type Match struct {
	Original string
	Masked   string
	Kind     string
	Purpose  string // "" when no purpose could be inferred
}

// Service applies PII masking to chat messages. Created once at application
// startup. Thread-safe and stateless aside from compiled patterns.
type Service struct {
	patterns []CompiledPattern
}

// NewService creates a masking service with the built-in compiled patterns.
func NewService() *Service {
	s := &Service{patterns: builtinPatterns}
	slog.Info("Masking service initialized", "patterns", len(s.patterns))
	return s
}

// Detect finds all PII occurrences in text. Each match carries the purpose
// inferred from surrounding keywords (urgent/contact/reminder).
func (s *Service) Detect(text string) []Match {
	var matches []Match
	purpose := extractPurpose(text)
	for _, p := range s.patterns {
		for _, hit := range p.Regex.FindAllString(text, -1) {
			matches = append(matches, Match{
				Original: hit,
				Masked:   p.Replacement,
				Kind:     p.Name,
				Purpose:  purpose,
			})
		}
	}
	return matches
}

// Mask replaces every detected occurrence in text with its masked form.
func (s *Service) Mask(text string, matches []Match) string {
	masked := text
	for _, m := range matches {
		masked = strings.ReplaceAll(masked, m.Original, m.Masked)
	}
	return masked
}

// MemoryText returns the masked form of text suitable for persistence,
// appending "(for <purpose>)" when a purpose is known.
func (s *Service) MemoryText(text string, matches []Match) string {
	if len(matches) == 0 {
		return text
	}
	masked := s.Mask(text, matches)

	seen := make(map[string]bool)
	var purposes []string
	for _, m := range matches {
		if m.Purpose != "" && !seen[m.Purpose] {
			seen[m.Purpose] = true
			purposes = append(purposes, m.Purpose)
		}
	}
	if len(purposes) > 0 {
		masked += " (for " + strings.Join(purposes, ", ") + ")"
	}
	return masked
}

func extractPurpose(text string) string {
	lower := strings.ToLower(text)
	for _, group := range purposeKeywords {
		for _, kw := range group.Keywords {
			if strings.Contains(lower, kw) {
				return group.Purpose
			}
		}
	}
	return ""
}
