package mcpmongo

import (
	"net/url"
	"strings"
)

// NamespaceStrategy maps collection names to resource URIs and back.
// Implementations must be deterministic: CollectionName(ResourceURI(c))
// returns c for every valid collection c.
type NamespaceStrategy interface {
	ResourceURI(collection string) string
	ResourceTemplateURI() string
	CollectionName(resourceURI string) string
}

// SchemeNamespace exposes each collection as "<scheme>://<collection>". The
// scheme defaults to "mongodb".
type SchemeNamespace struct {
	Scheme string
}

func (s SchemeNamespace) scheme() string {
	if s.Scheme == "" {
		return "mongodb"
	}
	return s.Scheme
}

func (s SchemeNamespace) prefix() string {
	return s.scheme() + "://"
}

func (s SchemeNamespace) ResourceURI(collection string) string {
	return s.prefix() + collection
}

func (s SchemeNamespace) ResourceTemplateURI() string {
	return s.prefix() + "{collection}"
}

// CollectionName extracts the collection from a resource URI. A URI that
// parses with the expected scheme yields its host and path joined; anything
// else falls back to stripping the scheme prefix verbatim. The result is not
// validated.
func (s SchemeNamespace) CollectionName(resourceURI string) string {
	if u, err := url.Parse(resourceURI); err == nil && strings.EqualFold(u.Scheme, s.scheme()) && u.Opaque == "" {
		return strings.TrimPrefix(u.Host+u.Path, "/")
	}
	return strings.TrimPrefix(resourceURI, s.prefix())
}
