// Package topic implements MQTT topic filter matching and the validation
// rules applied to topics, payloads and device identities coming from
// admin operations.
//
// Two matchers are provided and deliberately kept distinct:
//
//   - Matches is the lenient matcher used against the session's
//     subscription set. "#" consumes the rest of the topic, including
//     nothing at all, so "a/#" matches "a".
//   - MatchesStrict is the message-trigger matcher. It requires the topic
//     and the pattern to have the same number of segments before walking
//     them, so "#" only ever stands in for a single final segment.
//
// IsSystem recognises the gateway's pseudo-topics used for history
// entries that did not come from the broker.
package topic
