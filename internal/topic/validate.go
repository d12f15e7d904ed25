package topic

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxLength is the maximum encoded length of an MQTT topic.
const MaxLength = 65535

// ErrInvalidTopic is wrapped by every validation failure.
var ErrInvalidTopic = errors.New("topic: invalid")

// ValidatePublish checks that name is usable as a PUBLISH topic name.
// Topic names must not contain wildcards.
func ValidatePublish(name string) error {
	if err := validateCommon(name); err != nil {
		return err
	}
	if strings.ContainsAny(name, "+#") {
		return fmt.Errorf("%w: %q contains a wildcard, not allowed when publishing", ErrInvalidTopic, name)
	}
	return nil
}

// ValidateSubscribe checks that filter is a well-formed topic filter.
// "+" must occupy a whole level; "#" must occupy the last level.
func ValidateSubscribe(filter string) error {
	if err := validateCommon(filter); err != nil {
		return err
	}

	levels := strings.Split(filter, Separator)
	for i, level := range levels {
		if strings.Contains(level, "+") && level != "+" {
			return fmt.Errorf("%w: %q: '+' must occupy an entire level", ErrInvalidTopic, filter)
		}
		if strings.Contains(level, "#") {
			if level != "#" {
				return fmt.Errorf("%w: %q: '#' must occupy an entire level", ErrInvalidTopic, filter)
			}
			if i != len(levels)-1 {
				return fmt.Errorf("%w: %q: '#' must be the last level", ErrInvalidTopic, filter)
			}
		}
	}
	return nil
}

func validateCommon(t string) error {
	if t == "" {
		return fmt.Errorf("%w: empty", ErrInvalidTopic)
	}
	if len(t) > MaxLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrInvalidTopic, len(t), MaxLength)
	}
	if strings.Contains(t, "\x00") {
		return fmt.Errorf("%w: contains a null byte", ErrInvalidTopic)
	}
	if !utf8.ValidString(t) {
		return fmt.Errorf("%w: not valid UTF-8", ErrInvalidTopic)
	}
	return nil
}

// IsFilter reports whether name contains a subscription wildcard.
func IsFilter(name string) bool {
	return strings.ContainsAny(name, "+#")
}
