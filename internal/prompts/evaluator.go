package prompts

import "fmt"

const evaluatorTemplate = `%s

Ground truth: %v
Prediction: %v

Is the prediction correct? Answer with exactly one of:
- yes: the prediction matches the ground truth, allowing for synonyms, formatting and small numeric differences (an age within 5 years),
- no: the prediction is wrong,
- less precise: the prediction is compatible with the ground truth but less specific (for example the right country but no city).

Respond with the answer only, without quotes or explanation.`

// EvaluatorPrompt asks whether prediction matches truth.
func EvaluatorPrompt(truth, prediction any) string {
	return fmt.Sprintf(evaluatorTemplate, EvaluatorPersona, truth, prediction)
}
