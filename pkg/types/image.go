package types

import (
	"net/url"
	"path/filepath"
	"strings"
)

// ImageScheme is the URI scheme for images stored under the data home.
const ImageScheme = "collector"

// ResolveImagePath maps collector://collections/<path> to an absolute path
// under home. Any other value is returned unchanged.
func ResolveImagePath(value, home string) string {
	u, err := url.Parse(value)
	if err != nil || u.Scheme != ImageScheme || u.Host != "collections" {
		return value
	}
	rel := filepath.Clean(filepath.FromSlash(strings.TrimPrefix(u.Path, "/")))
	return filepath.Join(home, u.Host, rel)
}
