package bayeux

import "strings"

// Channel represents a Bayeux Channel which is defined as "a string that
// looks like a URL path such as `/foo/bar`, `/meta/connect`, or
// `/service/chat`."
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels
type Channel string

const (
	// MetaHandshake is the Channel for the first message a new client sends.
	MetaHandshake Channel = "/meta/handshake"
	// MetaConnect is the Channel used for connect messages after a successful
	// handshake.
	MetaConnect Channel = "/meta/connect"
	// MetaDisconnect is the Channel used for disconnect messages.
	MetaDisconnect Channel = "/meta/disconnect"
	// MetaSubscribe is the Channel used by a client to subscribe to channels.
	MetaSubscribe Channel = "/meta/subscribe"
	// MetaUnsubscribe is the Channel used by a client to unsubscribe to
	// channels.
	MetaUnsubscribe Channel = "/meta/unsubscribe"
	emptyChannel    Channel = ""
)

// ChannelType is used to define the three types of channels:
// - meta channels, channels starting with `/meta/`
// - service channels, channels starting with `/service/`
// - broadcast channels, all other channels
type ChannelType string

const (
	// MetaChannel represents the `/meta/` channel type
	MetaChannel ChannelType = "meta"
	// ServiceChannel represents the `/service/` channel type
	ServiceChannel ChannelType = "service"
	// BroadcastChannel represents all other channels
	BroadcastChannel ChannelType = "broadcast"
)

const (
	metaPrefix    string = "/meta/"
	servicePrefix string = "/service/"
)

// Type provides the type of Channel this struct represents
func (c Channel) Type() ChannelType {
	s := string(c)
	switch {
	case strings.HasPrefix(s, metaPrefix):
		return MetaChannel
	case strings.HasPrefix(s, servicePrefix):
		return ServiceChannel
	default:
		return BroadcastChannel
	}
}

// segments splits c into its slash-separated segments, dropping the leading
// empty segment produced by the leading "/". Returns nil if c doesn't start
// with "/".
func (c Channel) segments() []string {
	s := string(c)
	if !strings.HasPrefix(s, "/") {
		return nil
	}
	return strings.Split(s[1:], "/")
}

// HasWildcard indicates whether the Channel's last segment is `*` or `**`.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) HasWildcard() bool {
	segs := c.segments()
	if len(segs) == 0 {
		return false
	}
	last := segs[len(segs)-1]
	return last == "*" || last == "**"
}

// IsValid reports whether c is a structurally valid channel: an absolute
// path, no empty segments, and `*`/`**` appearing only as whole segments
// (`**` only as the last one). It does not enforce the subscribe/publish
// restrictions on meta/service channels; use Validator for that.
func (c Channel) IsValid() bool {
	return validateChannel(c) == nil
}

func validateChannel(c Channel) error {
	s := string(c)
	if s == "" {
		return ErrEmptyChannel
	}
	if !strings.HasPrefix(s, "/") {
		return ErrChannelNoLeadingSlash
	}
	segs := strings.Split(s[1:], "/")
	for i, seg := range segs {
		if seg == "" {
			return ErrChannelEmptySegment
		}
		if seg == "*" || seg == "**" {
			if i != len(segs)-1 {
				return ErrChannelBadWildcard
			}
			continue
		}
		if strings.Contains(seg, "*") {
			return ErrChannelBadWildcard
		}
	}
	return nil
}

// Match checks if a given Channel matches this Channel, per Bayeux wildcard
// semantics: `*` matches exactly one segment, `**` (valid only as the final
// segment of the pattern) matches one or more trailing segments. Wildcards
// only ever match whole segments.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) Match(other Channel) bool {
	return c.MatchString(string(other))
}

// MatchString is Match against a raw channel string.
//
// See also: https://docs.cometd.org/current/reference/#_concepts_channels_wild
func (c Channel) MatchString(other string) bool {
	pattern := c.segments()
	target := Channel(other).segments()
	if pattern == nil || target == nil {
		return false
	}

	for i, seg := range pattern {
		switch seg {
		case "**":
			return i == len(pattern)-1 && len(target) > i
		case "*":
			if len(target) <= i {
				return false
			}
		default:
			if len(target) <= i || target[i] != seg {
				return false
			}
		}
	}
	return len(pattern) == len(target)
}

// Validator enforces the Bayeux rules for channel names, with a distinct
// error reason depending on whether the channel is about to be used for a
// subscribe or a publish operation. Meta and service channels are valid
// addressing targets for the protocol's own internal messages, but a
// client may neither subscribe nor publish directly to either.
type Validator struct{}

// ValidateForSubscribe rejects structurally invalid channels and any
// /meta/* or /service/* channel, since neither is subscribable by a client.
func (Validator) ValidateForSubscribe(c Channel) error {
	if err := validateChannel(c); err != nil {
		return err
	}
	switch c.Type() {
	case MetaChannel:
		return ErrCannotSubscribeMeta
	case ServiceChannel:
		return ErrCannotSubscribeService
	}
	return nil
}

// ValidateForPublish rejects structurally invalid channels and any
// /meta/* or /service/* channel, since a client may not publish directly
// to either.
func (Validator) ValidateForPublish(c Channel) error {
	if err := validateChannel(c); err != nil {
		return err
	}
	switch c.Type() {
	case MetaChannel:
		return ErrCannotPublishMeta
	case ServiceChannel:
		return ErrCannotPublishService
	}
	return nil
}
