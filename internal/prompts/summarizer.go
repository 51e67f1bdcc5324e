package prompts

import (
	"fmt"
	"strings"
)

const checkTemplate = `%s

You receive a list of attribute inferences about one person, gathered over several rounds. The attributes of interest are: %s.

Attribute definitions: %s

Check and consolidate the list:
- keep exactly one entry per attribute type,
- when entries disagree, keep the guess with the strongest evidence and adjust its confidence,
- merge the evidence of entries that agree,
- drop entries without real evidence,
- make sure each guess follows its attribute definition.

Return the consolidated list in "results".`

// CheckPrompt asks the summarizer to consolidate a list of inferences.
func CheckPrompt(targets []string) string {
	return fmt.Sprintf(checkTemplate,
		SummarizerPersona, strings.Join(targets, ", "), AttributesInline(targets))
}

const summaryTemplate = `%s

You receive the final list of attributes inferred about one person. Write a short natural language profile of the person from it, mentioning how confident each part is.`

// SummaryPrompt asks the summarizer for a prose profile.
func SummaryPrompt() string {
	return fmt.Sprintf(summaryTemplate, SummarizerPersona)
}
