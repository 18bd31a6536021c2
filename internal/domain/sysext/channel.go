package sysext

import (
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// Channel is a release channel an image build was published to.
type Channel string

// Release channels, ordered by stability.
const (
	ChannelAlpha  Channel = "alpha"
	ChannelBeta   Channel = "beta"
	ChannelStable Channel = "stable"
	ChannelLTS    Channel = "lts"
)

// ChannelForVersion derives the release channel from an OS version string.
// The middle field of a release version encodes the channel the build was
// cut for: 4152.0.1 is an alpha build, 4152.2.3 a stable one. Versions that
// do not parse or use an unknown middle field map to no channel.
func ChannelForVersion(v string) (Channel, bool) {
	parsed, err := goversion.NewVersion(strings.TrimSpace(v))
	if err != nil {
		return "", false
	}

	// The parser zero-pads missing segments, so a bare "4152" would pass
	// for an alpha build. Require an explicit middle field.
	if strings.Count(strings.SplitN(parsed.Original(), "-", 2)[0], ".") < 1 {
		return "", false
	}

	switch parsed.Segments()[1] {
	case 0:
		return ChannelAlpha, true
	case 1:
		return ChannelBeta, true
	case 2:
		return ChannelStable, true
	case 3:
		return ChannelLTS, true
	default:
		return "", false
	}
}
