// Package prompts contains every prompt the profiling agents send to a
// model.
//
// Prompt text is Go code rather than config files because it is program
// logic: templates use fmt.Sprintf interpolation, are compiled into the
// binary and can be checked by tests.
//
// Convention: each role gets its own file (profiler.go, retriever.go,
// summarizer.go, evaluator.go) with exported functions that accept the
// dynamic parts and return the interpolated prompt.
package prompts
