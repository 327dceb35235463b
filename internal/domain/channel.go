package domain

import "fmt"

// Channel is a named content feed synchronized independently.
type Channel string

const (
	ChannelHome          Channel = "home"
	ChannelWorld         Channel = "world"
	ChannelEntertainment Channel = "entertainment"
)

// DefaultChannels is the enumeration served by the origin.
var DefaultChannels = []Channel{ChannelHome, ChannelWorld, ChannelEntertainment}

func (c Channel) String() string {
	return string(c)
}

// ParseChannel validates name against channels.
func ParseChannel(name string, channels []Channel) (Channel, error) {
	for _, c := range channels {
		if string(c) == name {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownChannel, name)
}

// Manifest maps a channel to its archive identifier. A nil value, or a missing
// key, means nothing is published for that channel.
type Manifest map[Channel]*string

// Get returns the identifier for c and whether one is set.
func (m Manifest) Get(c Channel) (string, bool) {
	if m == nil {
		return "", false
	}
	id, ok := m[c]
	if !ok || id == nil {
		return "", false
	}
	return *id, true
}

// Set records id for c.
func (m Manifest) Set(c Channel, id string) {
	m[c] = &id
}

// Clone returns a deep copy.
func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for c, id := range m {
		if id == nil {
			out[c] = nil
			continue
		}
		v := *id
		out[c] = &v
	}
	return out
}
