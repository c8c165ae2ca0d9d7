package quality

import (
	"strings"

	"github.com/trendradar/orchestrator/internal/models"
)

// ErrorClass buckets tool failures so retry logic can pick an adjustment
// instead of repeating the call verbatim.
type ErrorClass string

const (
	ErrorTimeout   ErrorClass = "timeout"
	ErrorNoResults ErrorClass = "no_results"
	ErrorRateLimit ErrorClass = "rate_limit"
	ErrorAuth      ErrorClass = "auth"
	ErrorNetwork   ErrorClass = "network"
	ErrorParams    ErrorClass = "invalid_params"
	ErrorUnknown   ErrorClass = "unknown"
)

// Classification is the classifier output: the bucket, whether a retry can
// help, argument adjustments to apply first, and a platform-specific hint.
type Classification struct {
	Class       ErrorClass
	Retryable   bool
	Adjustments map[string]any
	Hint        string
}

var errorKeywords = []struct {
	class ErrorClass
	terms []string
}{
	{ErrorRateLimit, []string{"rate limit", "too many requests", "429", "quota exceeded", "频率限制"}},
	{ErrorTimeout, []string{"timeout", "timed out", "deadline exceeded", "超时"}},
	{ErrorAuth, []string{"unauthorized", "forbidden", "401", "403", "api key", "invalid credentials"}},
	{ErrorNetwork, []string{"connection refused", "connection reset", "no such host", "network", "unreachable", "dns"}},
	{ErrorNoResults, []string{"no results", "empty result", "not found", "0 results", "没有找到", "无结果"}},
	{ErrorParams, []string{"invalid parameter", "invalid argument", "bad request", "400", "unsupported", "参数错误"}},
}

// Classify matches an error message against the keyword table and attaches
// class-specific retry adjustments.
func Classify(message string, platform models.Platform) Classification {
	lowered := strings.ToLower(message)

	class := ErrorUnknown
	for _, entry := range errorKeywords {
		for _, term := range entry.terms {
			if strings.Contains(lowered, term) {
				class = entry.class
				break
			}
		}
		if class != ErrorUnknown {
			break
		}
	}

	c := Classification{Class: class}
	switch class {
	case ErrorTimeout:
		c.Retryable = true
		c.Adjustments = map[string]any{"max_results": 10}
		c.Hint = "reduce the result window so the request returns faster"
	case ErrorRateLimit:
		c.Retryable = true
		c.Hint = "back off before the next call to this platform"
	case ErrorNoResults:
		c.Retryable = true
		c.Hint = platformQueryHint(platform)
	case ErrorNetwork:
		c.Retryable = true
		c.Hint = "transient network failure"
	case ErrorParams:
		c.Retryable = true
		c.Adjustments = map[string]any{}
		c.Hint = "rebuild the arguments from tool defaults"
	case ErrorAuth:
		c.Retryable = false
		c.Hint = "credentials problem, retrying will not help"
	default:
		c.Retryable = true
	}
	return c
}

func platformQueryHint(platform models.Platform) string {
	switch platform {
	case models.PlatformBilibili:
		return "try Chinese keywords, bilibili search matches them far better"
	case models.PlatformYouTube:
		return "try English keywords or a broader phrase"
	default:
		return "broaden or simplify the query"
	}
}
