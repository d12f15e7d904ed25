package topic

import "strings"

const (
	// Marker flags a topic as private.
	Marker = "~"

	// Separator is the MQTT topic level separator.
	Separator = "/"
)

// PrivatePath resolves private topics against a namespace prefix.
// The zero value resolves private topics with an empty prefix.
//
// PrivatePath is immutable and safe for concurrent use.
type PrivatePath struct {
	prefix string
}

// NewPrivatePath returns a PrivatePath for prefix. The prefix is normalized
// once so that "fleet/robot7/" and "fleet//robot7" behave identically.
func NewPrivatePath(prefix string) PrivatePath {
	return PrivatePath{prefix: Normalize(prefix)}
}

// Prefix returns the normalized prefix.
func (p PrivatePath) Prefix() string {
	return p.prefix
}

// IsPrivate reports whether topic carries the private marker.
func IsPrivate(topic string) bool {
	return strings.HasPrefix(topic, Marker)
}

// Resolve returns the concrete MQTT topic for topic.
//
// Private topics resolve to normalize(prefix + "/" + strip_marker(topic)).
// With an empty prefix the leading separator is dropped, so "~/status"
// becomes "status". Topics without the marker are returned unchanged.
func (p PrivatePath) Resolve(topic string) string {
	if !IsPrivate(topic) {
		return topic
	}

	rest := strings.TrimPrefix(topic, Marker)
	if p.prefix == "" {
		return strings.TrimLeft(Normalize(rest), Separator)
	}
	return Normalize(p.prefix + Separator + rest)
}

// Relative is the inverse of Resolve: it maps a concrete MQTT topic under
// the prefix back to its "~/..." form. It returns false for topics outside
// the prefix, and always false when no prefix is configured.
func (p PrivatePath) Relative(mqttTopic string) (string, bool) {
	if p.prefix == "" {
		return "", false
	}

	normalized := Normalize(mqttTopic)
	if normalized == p.prefix {
		return Marker, true
	}
	if !strings.HasPrefix(normalized, p.prefix+Separator) {
		return "", false
	}
	return Marker + Separator + strings.TrimPrefix(normalized, p.prefix+Separator), true
}

// Warnings returns the private topics in topics that will resolve against
// an empty prefix. Callers log these at startup; they are not fatal.
func (p PrivatePath) Warnings(topics ...string) []string {
	if p.prefix != "" {
		return nil
	}
	var out []string
	for _, t := range topics {
		if IsPrivate(t) {
			out = append(out, t)
		}
	}
	return out
}

// Normalize collapses duplicate separators and strips a trailing separator.
// A leading separator is kept: "/a" and "a" are different MQTT topics.
func Normalize(topic string) string {
	if topic == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(topic))

	prevSep := false
	for i := 0; i < len(topic); i++ {
		c := topic[i]
		if c == '/' {
			if prevSep {
				continue
			}
			prevSep = true
		} else {
			prevSep = false
		}
		b.WriteByte(c)
	}

	out := b.String()
	if len(out) > 1 {
		out = strings.TrimSuffix(out, Separator)
	}
	return out
}
