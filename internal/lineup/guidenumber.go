// Package lineup merges per-device channel lists into one logical lineup
// and hands out stream URLs for channels, rotating across the devices able
// to tune them.
package lineup

import (
	"fmt"
	"strconv"
	"strings"
)

// SubchannelLimit bounds the subchannel component of a guide number. The
// dense channel id is Channel*SubchannelLimit+Sub and is exposed to callers
// as the channel's unique id, so subchannels at or above this limit are
// rejected at parse time rather than silently corrupting the encoding.
const SubchannelLimit = 10000

// GuideNumber identifies a (channel, subchannel) pair, e.g. "5.1" or "503".
type GuideNumber struct {
	Channel uint32
	Sub     uint32
}

// ParseGuideNumber parses "<channel>.<subchannel>" or "<channel>".
func ParseGuideNumber(s string) (GuideNumber, error) {
	var g GuideNumber
	chanPart, subPart, hasSub := strings.Cut(strings.TrimSpace(s), ".")
	ch, err := strconv.ParseUint(chanPart, 10, 32)
	if err != nil {
		return g, fmt.Errorf("guide number %q: %w", s, err)
	}
	g.Channel = uint32(ch)
	if hasSub {
		sub, err := strconv.ParseUint(subPart, 10, 32)
		if err != nil {
			return g, fmt.Errorf("guide number %q: %w", s, err)
		}
		if sub >= SubchannelLimit {
			return g, fmt.Errorf("guide number %q: subchannel %d exceeds limit %d", s, sub, SubchannelLimit)
		}
		g.Sub = uint32(sub)
	}
	return g, nil
}

// FromID decodes a dense channel id back to its guide number.
func FromID(id uint32) GuideNumber {
	return GuideNumber{Channel: id / SubchannelLimit, Sub: id % SubchannelLimit}
}

// ID returns the dense encoding used as the externally visible channel id.
func (g GuideNumber) ID() uint32 {
	return g.Channel*SubchannelLimit + g.Sub
}

// Less orders guide numbers lexicographically on (channel, subchannel).
func (g GuideNumber) Less(o GuideNumber) bool {
	if g.Channel != o.Channel {
		return g.Channel < o.Channel
	}
	return g.Sub < o.Sub
}

func (g GuideNumber) String() string {
	if g.Sub == 0 {
		return strconv.FormatUint(uint64(g.Channel), 10)
	}
	return fmt.Sprintf("%d.%d", g.Channel, g.Sub)
}
