package fetcher

import (
	"fmt"
	"net/url"
	"path"

	"github.com/krishjainx/bootengine/internal/config"
	"github.com/krishjainx/bootengine/internal/domain/sysext"
)

// Download source names, used in logs and fetch results.
const (
	SourceRelease = "release"
	SourceCache   = "cache"
)

// Candidate is one remote location an artifact may be fetched from. The
// image and its signature always come from the same candidate.
type Candidate struct {
	// Source names the kind of server for logs.
	Source string
	// ImageURL locates the image object.
	ImageURL string
	// SignatureURL locates the detached signature next to the image.
	SignatureURL string
}

// Candidates returns the download locations for an artifact, most
// preferred first. The release server is addressed per channel, so
// versions that map to no channel skip it. The cache mirror keys its
// buckets by plain architecture rather than full board name.
func Candidates(cfg *config.Config, artifact *sysext.Artifact) []Candidate {
	candidates := make([]Candidate, 0, 2)

	if cfg.ReleaseDomain != "" {
		if channel, ok := sysext.ChannelForVersion(artifact.Version); ok {
			base := fmt.Sprintf("https://%s.%s", channel, cfg.ReleaseDomain)
			if imageURL, err := joinURL(base, artifact.Board, artifact.Version, artifact.RemoteName()); err == nil {
				candidates = append(candidates, newCandidate(SourceRelease, imageURL))
			}
		}
	}

	if cfg.CacheURL != "" {
		base := sysext.BaseBoard(artifact.Board)
		if imageURL, err := joinURL(cfg.CacheURL, base, artifact.Version, artifact.RemoteName()); err == nil {
			candidates = append(candidates, newCandidate(SourceCache, imageURL))
		}
	}

	return candidates
}

func newCandidate(source, imageURL string) Candidate {
	return Candidate{
		Source:       source,
		ImageURL:     imageURL,
		SignatureURL: imageURL + sysext.SignatureExtension,
	}
}

// joinURL appends path elements to a base URL, preserving its query-free
// structure.
func joinURL(base string, elements ...string) (string, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %s: %w", base, err)
	}

	parsed.Path = path.Join(append([]string{parsed.Path}, elements...)...)

	return parsed.String(), nil
}
