package topic

import "strings"

// Pseudo-topics used as history titles for gateway-originated entries.
const (
	System = "SYSTEM"
	Error  = "ERROR"
)

const (
	separator      = "/"
	singleWildcard = "+"
	multiWildcard  = "#"
)

// Matches reports whether topic matches the subscription filter.
//
// The filter is walked segment by segment: "#" matches whatever remains of
// the topic (even nothing), "+" matches exactly one segment, and any other
// segment must be equal. Otherwise both sides must run out together.
func Matches(topic, filter string) bool {
	return walk(strings.Split(topic, separator), strings.Split(filter, separator))
}

// MatchesStrict reports whether topic matches a trigger pattern. Topic and
// pattern must have the same segment count; within that, "#" and "+" each
// match one segment.
func MatchesStrict(topic, pattern string) bool {
	t := strings.Split(topic, separator)
	p := strings.Split(pattern, separator)
	if len(t) != len(p) {
		return false
	}
	return walk(t, p)
}

func walk(topic, filter []string) bool {
	i := 0
	for _, seg := range filter {
		if seg == multiWildcard {
			return true
		}
		if i >= len(topic) {
			return false
		}
		if seg != singleWildcard && seg != topic[i] {
			return false
		}
		i++
	}
	return i == len(topic)
}

// IsSystem reports whether topic is one of the gateway pseudo-topics.
func IsSystem(topic string) bool {
	return topic == System || topic == Error
}
