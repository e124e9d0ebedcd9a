package policycache

import (
	"encoding/json"
	"fmt"

	"github.com/tetratelabs/wazero"

	"github.com/kubewarden/policy-engine/pkg/types"
)

// metadataCustomSectionName is the Wasm custom section Kubewarden's
// annotate-rs-style build tooling embeds a policy's metadata JSON blob
// under.
const metadataCustomSectionName = "kubewarden_metadata"

// parseMetadata extracts and decodes a policy's metadata annotations from
// its compiled module's custom sections. A module with no such section
// carries no metadata; spec §3 only requires an execution mode to be
// declared, so callers must treat an empty result as a load error
// themselves.
func parseMetadata(compiled wazero.CompiledModule) (types.Metadata, bool, error) {
	for _, section := range compiled.CustomSections() {
		if section.Name() != metadataCustomSectionName {
			continue
		}
		var metadata types.Metadata
		if err := json.Unmarshal(section.Data(), &metadata); err != nil {
			return types.Metadata{}, false, fmt.Errorf("cannot parse %s custom section: %w", metadataCustomSectionName, err)
		}
		return metadata, true, nil
	}
	return types.Metadata{}, false, nil
}
