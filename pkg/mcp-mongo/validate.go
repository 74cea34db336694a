package mcpmongo

import (
	"strings"

	"github.com/vikashloomba/mongo-mcp-go/pkg/mongoerr"
)

// systemPrefix marks MongoDB's internal namespaces (system.users,
// system.profile, ...), which are never exposed.
const systemPrefix = "system."

// ValidateCollectionName returns name unchanged when it may be passed to the
// store, and a validation error when it is empty, contains a reserved
// character, or names a system collection.
func ValidateCollectionName(name string) (string, error) {
	switch {
	case name == "":
		return "", mongoerr.Validation("collection", "collection name must not be empty")
	case strings.ContainsAny(name, "$\x00"):
		return "", mongoerr.Validation("collection", "collection name %q contains a reserved character", name)
	case strings.HasPrefix(name, systemPrefix):
		return "", mongoerr.Validation("collection", "access to system collection %q is not allowed", name)
	}
	return name, nil
}
