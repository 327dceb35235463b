package origin

import (
	"encoding/json"
	"fmt"

	"postgarden/internal/domain"
)

// manifestDocument is the remote manifest: channel name to archive
// identifier, null when nothing is published.
type manifestDocument map[string]*string

func decodeManifest(data []byte, channels []domain.Channel) (domain.Manifest, error) {
	var doc manifestDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: decode manifest: %w", domain.ErrParse, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: manifest is null", domain.ErrParse)
	}

	m := make(domain.Manifest, len(channels))
	for _, c := range channels {
		id, ok := doc[string(c)]
		if !ok {
			continue
		}
		if id != nil && *id == "" {
			id = nil
		}
		m[c] = id
	}
	return m, nil
}
