package prompts

const retrieverGuidance = `## What to do
You receive requests from the profiler. Pick exactly one tool function that best serves the request and call it.
- Use get_new_history to read the next unread comments unless the request asks for something specific.
- Use get_related_history to find comments about a topic.
- Use web_search and digest_webpage only to check facts about places, organizations or events.
- Use get_all_history only when the profiler explicitly asks for everything.
Fill in every required argument. Do not invent function names.`

// RetrieverSystemPrompt combines the retriever persona, the tool
// catalogue and guidance on choosing a tool.
func RetrieverSystemPrompt(toolInstructions string) string {
	return RetrieverPersona + "\n\n" + toolInstructions + "\n" + retrieverGuidance
}
