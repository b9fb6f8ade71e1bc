package masking

import "regexp"

// CompiledPattern holds a pre-compiled PII pattern with its replacement.
type CompiledPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string
	Description string
}

// builtinPatterns are the PII patterns compiled at service creation.
// The initial policy covers US-style phone numbers.
var builtinPatterns = []CompiledPattern{
	{
		Name:        "phone",
		Regex:       regexp.MustCompile(`\b\d{3}[-.]?\d{3}[-.]?\d{4}\b`),
		Replacement: "***-***-****",
		Description: "Phone numbers of the form ddd[sep]ddd[sep]dddd",
	},
}

// purposeKeywords map a detected purpose to the context words that imply it.
// Order matters: the first group with a hit wins.
var purposeKeywords = []struct {
	Purpose  string
	Keywords []string
}{
	{Purpose: "urgent", Keywords: []string{"urgent", "emergency", "alert", "critical"}},
	{Purpose: "contact", Keywords: []string{"contact", "call", "reach", "notify"}},
	{Purpose: "reminder", Keywords: []string{"reminder", "remind"}},
}
