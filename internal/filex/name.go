package filex

import (
	"net/url"
	"path/filepath"
	"strings"
)

// ExtractFilename returns the last "/"-separated segment of uri. A uri
// without a separator is returned unchanged.
func ExtractFilename(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

// RemoteFilename is ExtractFilename applied to the path of a URL, so query
// strings of presigned links do not leak into the cache key. Unparseable
// input falls back to ExtractFilename.
func RemoteFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ExtractFilename(rawURL)
	}
	return ExtractFilename(u.Path)
}

// LocalFilename is the decoded basename of a local file URI or path, so it
// compares equal to RemoteFilename of the URL the file was fetched from.
func LocalFilename(localURI string) string {
	return ExtractFilename(localPath(localURI))
}

// localPath decodes a file:// URI into a slash-separated path. Anything that
// does not decode is used as is.
func localPath(localURI string) string {
	p, err := PathFromURI(localURI)
	if err != nil {
		return localURI
	}
	return filepath.ToSlash(p)
}

// MatchMode selects how a remote entry is recognized in the local album.
type MatchMode string

const (
	// MatchExact compares extracted filenames for equality.
	MatchExact MatchMode = "exact"
	// MatchContains reports a hit when the local uri contains the remote
	// filename anywhere: remote "a.jpg" is found in ".../zoneX-a.jpg".
	MatchContains MatchMode = "contains"
)

// Matcher decides whether localURI already holds the media named by remoteURL.
type Matcher func(localURI, remoteURL string) bool

func MatcherFor(mode MatchMode) Matcher {
	if mode == MatchContains {
		return MatchByContainment
	}
	return MatchByFilename
}

// MatchByFilename is exact basename equality.
func MatchByFilename(localURI, remoteURL string) bool {
	name := RemoteFilename(remoteURL)
	return name != "" && LocalFilename(localURI) == name
}

// MatchByContainment is substring containment of the remote filename in the
// local uri.
func MatchByContainment(localURI, remoteURL string) bool {
	name := RemoteFilename(remoteURL)
	return name != "" && strings.Contains(localPath(localURI), name)
}

func (m MatchMode) Valid() bool {
	return m == MatchExact || m == MatchContains
}
