package acquisition

import (
	"context"
	"fmt"
)

// Libraries is a fixed class-to-root mapping backed by configuration.
type Libraries struct {
	Movies string
	TV     string
}

// LibraryPath implements LibraryResolver.
func (l Libraries) LibraryPath(ctx context.Context, class string) (string, error) {
	switch class {
	case "movie":
		if l.Movies == "" {
			return "", fmt.Errorf("no movie library configured")
		}
		return l.Movies, nil
	case "tv":
		if l.TV == "" {
			return "", fmt.Errorf("no tv library configured")
		}
		return l.TV, nil
	default:
		return "", fmt.Errorf("unknown media class %q", class)
	}
}
