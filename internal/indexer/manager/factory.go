package manager

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/halyard/halyard/internal/indexer/newznab"
	"github.com/halyard/halyard/internal/indexer/prowlarr"
	"github.com/halyard/halyard/internal/indexer/torznab"
	"github.com/halyard/halyard/internal/indexer/types"
)

// buildClient constructs the protocol adapter for a definition.
func buildClient(def types.IndexerDefinition, logger zerolog.Logger) (types.Indexer, error) {
	switch def.Type {
	case types.IndexerTypeTorznab:
		return torznab.NewClient(def, logger)
	case types.IndexerTypeNewznab:
		return newznab.NewClient(def, logger)
	case types.IndexerTypeProwlarr:
		return prowlarr.NewClient(def, logger)
	default:
		return nil, fmt.Errorf("unknown indexer type %q", def.Type)
	}
}
