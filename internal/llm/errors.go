package llm

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy for provider calls. Callers branch with errors.Is; transport
// failures are anything not wrapped in one of these sentinels.
var (
	ErrRateLimited      = errors.New("llm: rate limited")
	ErrAuth             = errors.New("llm: authentication failed")
	ErrProviderRejected = errors.New("llm: provider rejected request")
)

type ErrUnsupportedProvider struct {
	Provider string
}

func (e ErrUnsupportedProvider) Error() string {
	return fmt.Sprintf("unsupported llm provider: %s", e.Provider)
}

// statusError maps an HTTP status from a provider onto the taxonomy.
func statusError(status int, detail string) error {
	detail = strings.TrimSpace(detail)
	switch {
	case status == 429:
		return fmt.Errorf("%w (status 429)", ErrRateLimited)
	case status == 401 || status == 403:
		return fmt.Errorf("%w (status %d)", ErrAuth, status)
	default:
		if detail == "" {
			return fmt.Errorf("%w (status %d)", ErrProviderRejected, status)
		}
		return fmt.Errorf("%w (status %d): %s", ErrProviderRejected, status, detail)
	}
}

// DegradedContent is returned instead of an error when the synthesis path
// exhausts its retries. Pipeline code shows partial progress rather than the
// failure itself.
const DegradedContent = "Analysis temporarily unavailable. Please try again in a moment."

var degradedMarkers = []string{
	"Analysis temporarily unavailable",
	"Unable to synthesize",
	"Insufficient data available",
	"(API Status: 429)",
}

// IsDegradedContent reports whether content is a known failure placeholder
// rather than real synthesis output.
func IsDegradedContent(content string) bool {
	content = strings.TrimSpace(content)
	if content == "" {
		return true
	}
	for _, marker := range degradedMarkers {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}
