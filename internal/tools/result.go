package tools

import "strings"

// Status is the logical outcome of a tool call.
type Status string

// Tool call outcomes.
const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
)

// Result is the structured outcome of a tool call. Err carries the cause
// of a failure when one is known.
type Result struct {
	Status  Status `json:"status"`
	Payload string `json:"results"`
	Err     error  `json:"-"`
}

// OK reports whether the call succeeded.
func (r Result) OK() bool { return r.Status == StatusSuccess }

const (
	statusMarker = "[STATUS]:"
	resultMarker = "[RESULT]:"
)

// ParseResponse decodes the textual "[STATUS]: X [RESULT]: Y" convention
// used by black-box tool backends. SUCCESS anywhere in the status segment
// means success; anything else, including a missing marker, means fail.
// The payload is the trimmed text after [RESULT]:, or empty.
func ParseResponse(s string) (Status, string) {
	i := strings.Index(s, statusMarker)
	if i < 0 {
		return StatusFail, ""
	}
	rest := s[i+len(statusMarker):]

	statusPart, payload := rest, ""
	if j := strings.Index(rest, resultMarker); j >= 0 {
		statusPart = rest[:j]
		payload = strings.TrimSpace(rest[j+len(resultMarker):])
	}

	if strings.Contains(statusPart, "SUCCESS") {
		return StatusSuccess, payload
	}
	return StatusFail, payload
}

// FormatResponse renders a result in the textual convention.
func FormatResponse(status Status, payload string) string {
	token := "ERROR"
	if status == StatusSuccess {
		token = "SUCCESS"
	}
	return statusMarker + " " + token + " " + resultMarker + " " + payload
}
