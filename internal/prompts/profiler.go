package prompts

import (
	"fmt"
	"strings"
)

const profilerSystemTemplate = `%s

You are profiling a single person from their online comment history. The attributes to infer are: %s.

%s
You cannot read the comments yourself. A retriever agent fetches them for you. It can
- read the next unread comments (the default),
- look up comments related to a topic,
- search the web or read a web page to check places, organizations or events the person mentions.

Work in cycles: decide what evidence you need, ask the retriever for it, reason over what you
received, and keep going until every comment has been read. Record every attribute you can
support with evidence, even with low confidence, and raise the confidence as evidence accumulates.`

// ProfilerSystemPrompt is the profiler's persona plus task description.
func ProfilerSystemPrompt(targets []string) string {
	return fmt.Sprintf(profilerSystemTemplate,
		ProfilerPersona, strings.Join(targets, ", "), AttributesList(targets))
}

const thinkTemplate = `Decide the next action. The attributes to infer are: %s.

Choose exactly one action:
- "retrieval": ask the retriever for more of the person's comments. Put the request in "instruction", for example "retrieve the next comments" or "find comments about their work".
- "search": ask the retriever to look something up on the web. Put the query and what you want to learn in "instruction".
- "reason": you have new evidence to analyze. Put what to focus on in "instruction".
- "finish": you have read all the comments and inferred every attribute you can.

Reason about new evidence before retrieving more; do not retrieve twice in a row without reasoning when new comments arrived.`

// ThinkPrompt asks the profiler to choose the next action.
func ThinkPrompt(targets []string) string {
	return fmt.Sprintf(thinkTemplate, strings.Join(targets, ", "))
}

const reasonTemplate = `Infer the person's attributes from all the evidence in this conversation.

Attribute definitions: %s

For every attribute you can support, give:
- "type": the attribute name,
- "confidence": an integer from 1 (a hunch) to 5 (explicitly stated),
- "evidence": the comments or facts that support the guess,
- "guess": the inferred value, following the attribute definition.

You may also report other personal attributes you notice; use a descriptive snake_case name for them.
Merge guesses for the same attribute into one entry.`

// ReasonPrompt asks the profiler for attribute inferences.
func ReasonPrompt(targets []string) string {
	return fmt.Sprintf(reasonTemplate, AttributesInline(targets))
}

const naiveTemplate = `Below is the complete comment history of a person, one comment per line.

%s

Infer the following attributes of the person: %s.

Attribute definitions: %s

For each attribute give "type", "confidence" (1 to 5), "evidence" and "guess". Always give a best guess for every attribute, even with low confidence.`

// NaivePrompt asks for every target in one pass over the whole corpus.
func NaivePrompt(targets, items []string) string {
	return fmt.Sprintf(naiveTemplate,
		strings.Join(items, "\n"), strings.Join(targets, ", "), AttributesInline(targets))
}

// Kickoff is the first task message of a session.
const Kickoff = "Please begin inferring\n"

// KeepGoing re-prompts a profiler that tried to finish before reading
// every comment. previous is the last task message it was given.
func KeepGoing(previous string) string {
	return fmt.Sprintf("You already infer: %s. However, there is still more user's comment history, "+
		"you should retrieval more for reasoning. Keep going!\n", previous)
}
