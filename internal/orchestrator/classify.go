package orchestrator

import (
	"errors"
	"strings"

	"github.com/jackzampolin/roundup/internal/gateway"
)

// Failure classes reported alongside failed jobs. Diagnostics only: nothing
// branches on these.
const (
	ClassQuota      = "quota"
	ClassRateLimit  = "rate_limit"
	ClassCredential = "credential"
	ClassTimeout    = "timeout"
	ClassInput      = "input_validation"
	ClassUnknown    = "unknown"
)

// classifyError prefers the gateway's typed error kind and falls back to
// free-text classification for genuinely unstructured messages.
func classifyError(err error) string {
	var ge *gateway.Error
	if errors.As(err, &ge) {
		switch ge.Kind {
		case gateway.KindQuota:
			return ClassQuota
		case gateway.KindRateLimit:
			return ClassRateLimit
		case gateway.KindCredential:
			return ClassCredential
		case gateway.KindInput:
			return ClassInput
		}
	}
	return Classify(err.Error())
}

// Classify matches diagnostic text against known provider failure phrases.
func Classify(msg string) string {
	m := strings.ToLower(msg)
	switch {
	case strings.Contains(m, "quota") || strings.Contains(m, "insufficient") || strings.Contains(m, "billing"):
		return ClassQuota
	case strings.Contains(m, "rate limit") || strings.Contains(m, "rate_limit") || strings.Contains(m, "429") || strings.Contains(m, "too many requests"):
		return ClassRateLimit
	case strings.Contains(m, "api key") || strings.Contains(m, "unauthorized") || strings.Contains(m, "credential") || strings.Contains(m, "authentication"):
		return ClassCredential
	case strings.Contains(m, "timeout") || strings.Contains(m, "timed out") || strings.Contains(m, "deadline"):
		return ClassTimeout
	case strings.Contains(m, "invalid") || strings.Contains(m, "validation") || strings.Contains(m, "malformed"):
		return ClassInput
	default:
		return ClassUnknown
	}
}
