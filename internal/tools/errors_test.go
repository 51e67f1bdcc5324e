package tools

import (
	"strings"
	"testing"
)

func TestExecutionError(t *testing.T) {
	tests := []struct {
		err  *ExecutionError
		want string
	}{
		{&ExecutionError{Tool: "web_search"}, "The function calling of web_search failed. Need re-parsing the response."},
		{&ExecutionError{Tool: "digest_webpage", Reason: "HTTP 404"}, "digest_webpage failed: HTTP 404"},
	}
	for _, tt := range tests {
		if got := tt.err.Error(); !strings.Contains(got, tt.want) {
			t.Errorf("Error() = %q, want it to contain %q", got, tt.want)
		}
	}
}
