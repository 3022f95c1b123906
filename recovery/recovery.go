package recovery

import (
	"context"
	"errors"
	"net"
	"strings"
	"unicode"

	"github.com/jonwraymond/agentguard/agenterr"
)

// Matcher assigns Kind to errors whose lower-cased message contains any of
// Keywords. Numeric keywords such as status codes only match as whole
// words, so "TP4290" does not contain "429".
type Matcher struct {
	Kind     agenterr.Kind
	Keywords []string
}

// DefaultMatchers is the keyword order used by the package-level functions.
// Earlier matchers win, so "unauthorized" is tested before generic words.
var DefaultMatchers = []Matcher{
	{Kind: agenterr.KindRateLimitExceeded, Keywords: []string{"rate limit", "ratelimit", "too many requests", "quota exceeded", "429"}},
	{Kind: agenterr.KindUnauthorized, Keywords: []string{"unauthorized", "unauthenticated", "forbidden", "permission denied", "invalid api key", "401", "403"}},
	{Kind: agenterr.KindValidation, Keywords: []string{"validation", "invalid", "malformed", "schema", "required field"}},
	{Kind: agenterr.KindTimeout, Keywords: []string{"timeout", "timed out", "deadline exceeded"}},
	{Kind: agenterr.KindNetwork, Keywords: []string{"connection refused", "connection reset", "no such host", "network", "dial tcp", "broken pipe"}},
	{Kind: agenterr.KindToolNotFound, Keywords: []string{"tool not found", "unknown tool", "not registered"}},
	{Kind: agenterr.KindProvider, Keywords: []string{"upstream", "provider", "bad gateway", "service unavailable", "overloaded", "502", "503"}},
}

var messages = map[agenterr.Kind]string{
	agenterr.KindRateLimitExceeded:      "You're sending requests too quickly. Please wait a moment and try again.",
	agenterr.KindUnauthorized:           "You're not authorized to do that. Please sign in again and retry.",
	agenterr.KindValidation:             "Some of the details in your request look invalid. Please check them and try again.",
	agenterr.KindToolNotFound:           "This assistant is missing a capability it needs right now. Please try again later.",
	agenterr.KindToolExecutionFailed:    "One of our travel services failed to respond correctly. Please try again.",
	agenterr.KindProvider:               "The planning service is temporarily unavailable. Please try again shortly.",
	agenterr.KindNetwork:                "We couldn't reach a required service. Please try again in a moment.",
	agenterr.KindTimeout:                "That took longer than expected. Please try again.",
	agenterr.KindConfigValidationFailed: "This assistant is temporarily unavailable. Our team has been notified.",
	agenterr.KindUnknown:                "Something went wrong while planning your trip. Please try again.",
}

// Mapper classifies errors with a configurable matcher list.
type Mapper struct {
	matchers []Matcher
}

// NewMapper creates a Mapper. With no matchers it uses DefaultMatchers.
func NewMapper(matchers ...Matcher) *Mapper {
	if len(matchers) == 0 {
		matchers = DefaultMatchers
	}
	normalized := make([]Matcher, len(matchers))
	for i, m := range matchers {
		kws := make([]string, 0, len(m.Keywords))
		for _, kw := range m.Keywords {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				kws = append(kws, kw)
			}
		}
		normalized[i] = Matcher{Kind: m.Kind, Keywords: kws}
	}
	return &Mapper{matchers: normalized}
}

var defaultMapper = NewMapper()

// Classify returns the taxonomy kind of err. A nil error is KindUnknown.
func (m *Mapper) Classify(err error) agenterr.Kind {
	if err == nil {
		return agenterr.KindUnknown
	}
	if kind := agenterr.KindOf(err); kind != agenterr.KindUnknown {
		return kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return agenterr.KindTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return agenterr.KindTimeout
		}
		return agenterr.KindNetwork
	}

	msg := strings.ToLower(err.Error())
	for _, matcher := range m.matchers {
		for _, kw := range matcher.Keywords {
			if contains(msg, kw) {
				return matcher.Kind
			}
		}
	}
	return agenterr.KindUnknown
}

// MapToUserMessage returns the fixed sentence for err's category.
func (m *Mapper) MapToUserMessage(err error) string {
	return Message(m.Classify(err))
}

// Render returns both the sentence and the kind.
func (m *Mapper) Render(err error) (string, agenterr.Kind) {
	kind := m.Classify(err)
	return Message(kind), kind
}

// Message returns the user-facing sentence for kind.
func Message(kind agenterr.Kind) string {
	if msg, ok := messages[kind]; ok {
		return msg
	}
	return messages[agenterr.KindUnknown]
}

// Classify classifies err with DefaultMatchers.
func Classify(err error) agenterr.Kind {
	return defaultMapper.Classify(err)
}

// MapToUserMessage maps err with DefaultMatchers.
func MapToUserMessage(err error) string {
	return defaultMapper.MapToUserMessage(err)
}

// Render renders err with DefaultMatchers.
func Render(err error) (string, agenterr.Kind) {
	return defaultMapper.Render(err)
}

func contains(msg, kw string) bool {
	if strings.IndexFunc(kw, func(r rune) bool { return !unicode.IsDigit(r) }) >= 0 {
		return strings.Contains(msg, kw)
	}
	for rest, offset := msg, 0; ; {
		i := strings.Index(rest, kw)
		if i < 0 {
			return false
		}
		start, end := offset+i, offset+i+len(kw)
		if !wordByteAt(msg, start-1) && !wordByteAt(msg, end) {
			return true
		}
		rest, offset = msg[start+1:], start+1
	}
}

// wordByteAt reports whether msg[i] is a letter, digit or underscore.
func wordByteAt(msg string, i int) bool {
	if i < 0 || i >= len(msg) {
		return false
	}
	c := msg[i]
	return c == '_' || c >= '0' && c <= '9' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}
