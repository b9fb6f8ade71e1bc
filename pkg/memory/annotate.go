package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/threadline-ai/mnemos/pkg/models"
)

// stalePreferenceAgeDays is the age past which a preference gets flagged for
// re-confirmation.
const stalePreferenceAgeDays = 90

var preferenceWords = []string{"prefer", "like", "delivery", "payment", "terms", "remember"}

// Annotate appends bracketed status notes to retrieved memory text for
// prompt/UI hints. It operates on copies; annotated text is never persisted.
func Annotate(results []models.MemoryRetrievalResult, now time.Time) []models.MemoryRetrievalResult {
	annotated := make([]models.MemoryRetrievalResult, len(results))
	for i, r := range results {
		r.Text = annotateText(r, now)
		annotated[i] = r
	}
	return annotated
}

func annotateText(r models.MemoryRetrievalResult, now time.Time) string {
	text := r.Text
	lower := strings.ToLower(text)

	if ageDays := int(now.Sub(r.CreatedAt).Hours() / 24); ageDays > stalePreferenceAgeDays && mentionsPreference(lower) {
		text += fmt.Sprintf(" [Note: this preference is %d days old]", ageDays)
	}
	if strings.Contains(lower, "sla") || strings.Contains(lower, "breach") || strings.Contains(lower, "risk") {
		text += " [Note: This involves SLA risk]"
	}
	if strings.Contains(lower, "done") || strings.Contains(lower, "complete") || strings.Contains(lower, "finished") {
		text += " [Note: This task is completed]"
	}
	if strings.Contains(lower, "invoice") && (strings.Contains(lower, "due") || strings.Contains(lower, "remind")) {
		text += " [Note: This involves invoice reminders]"
	}
	return text
}

func mentionsPreference(lower string) bool {
	for _, w := range preferenceWords {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}
