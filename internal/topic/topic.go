// Package topic implements MQTT topic matching, validation, and a
// trie-keyed subscription index for routing publishes to subscribers.
package topic

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Limits, mirroring the MQTT spec's own ceilings (used as defaults when a
// broker doesn't configure tighter ones).
const (
	MaxTopicLength    = 65535
	MaxPayloadSize    = 268435455 // 256MB - 1
	MaxIncomingPacket = 268435455
	MaxClientIDLength = 23
)

// Match reports whether topic matches filter under MQTT wildcard rules:
// '+' matches exactly one level, '#' matches the remainder (must be last).
func Match(filter, topic string) bool {
	// MQTT-4.7.2-1: filters starting with a wildcard never match topics
	// starting with '$' (reserved for broker-internal topics).
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fIdx, tIdx := 0, 0
	fLen, tLen := len(filter), len(topic)

	for fIdx <= fLen {
		var fLevel string
		var fNext int
		if idx := strings.IndexByte(filter[fIdx:], '/'); idx >= 0 {
			fNext = fIdx + idx
			fLevel = filter[fIdx:fNext]
		} else {
			fNext = fLen
			fLevel = filter[fIdx:]
		}

		if fLevel == "#" {
			return true
		}

		if tIdx > tLen {
			return false
		}

		var tLevel string
		var tNext int
		if idx := strings.IndexByte(topic[tIdx:], '/'); idx >= 0 {
			tNext = tIdx + idx
			tLevel = topic[tIdx:tNext]
		} else {
			tNext = tLen
			tLevel = topic[tIdx:]
		}

		if fLevel != "+" && fLevel != tLevel {
			return false
		}

		if fNext == fLen {
			fIdx = fLen + 1
		} else {
			fIdx = fNext + 1
		}
		if tNext == tLen {
			tIdx = tLen + 1
		} else {
			tIdx = tNext + 1
		}
	}

	return tIdx > tLen
}

// ValidatePublish validates a topic name for PUBLISH: no wildcards allowed.
func ValidatePublish(name string, maxLen int) error {
	if name == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	if maxLen <= 0 {
		maxLen = MaxTopicLength
	}
	if len(name) > maxLen {
		return fmt.Errorf("topic length %d exceeds maximum %d", len(name), maxLen)
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("topic must not contain wildcard characters")
	}
	if strings.Contains(name, "\x00") {
		return fmt.Errorf("topic contains null byte which is not allowed")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("topic is not valid UTF-8")
	}
	return nil
}

// ValidateFilter validates a topic filter for SUBSCRIBE/UNSUBSCRIBE:
// wildcards are allowed but must occupy an entire level, and '#' must be last.
func ValidateFilter(filter string, maxLen int) error {
	if filter == "" {
		return fmt.Errorf("topic filter cannot be empty")
	}
	if maxLen <= 0 {
		maxLen = MaxTopicLength
	}
	if len(filter) > maxLen {
		return fmt.Errorf("topic filter length %d exceeds maximum %d", len(filter), maxLen)
	}
	if strings.Contains(filter, "\x00") {
		return fmt.Errorf("topic filter contains null byte which is not allowed")
	}
	if !utf8.ValidString(filter) {
		return fmt.Errorf("topic filter is not valid UTF-8")
	}

	parts := strings.Split(filter, "/")
	for i, part := range parts {
		if strings.Contains(part, "+") && part != "+" {
			return fmt.Errorf("single-level wildcard '+' must occupy entire topic level")
		}
		if strings.Contains(part, "#") {
			if part != "#" {
				return fmt.Errorf("multi-level wildcard '#' must occupy entire topic level")
			}
			if i != len(parts)-1 {
				return fmt.Errorf("multi-level wildcard '#' must be the last level")
			}
		}
	}
	return nil
}

// ValidatePayload checks a publish payload against a size ceiling.
func ValidatePayload(payload []byte, maxSize int) error {
	if maxSize <= 0 {
		maxSize = MaxPayloadSize
	}
	if len(payload) > maxSize {
		return fmt.Errorf("payload size %d exceeds maximum %d", len(payload), maxSize)
	}
	return nil
}
