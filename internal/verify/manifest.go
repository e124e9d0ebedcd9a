package verify

import (
	"encoding/json"
	"fmt"
)

// wasmLayerMediaType is the OCI media type kwctl/policy-fetcher annotate a
// policy's Wasm layer with.
const wasmLayerMediaType = "application/vnd.wasm.content.layer.v1+wasm"

type ociManifest struct {
	Layers []struct {
		MediaType string `json:"mediaType"`
		Digest    string `json:"digest"`
	} `json:"layers"`
}

// wasmLayerDigests extracts the digests of every layer tagged with the Wasm
// content media type from a raw OCI manifest.
func wasmLayerDigests(manifest []byte) ([]string, error) {
	var m ociManifest
	if err := json.Unmarshal(manifest, &m); err != nil {
		return nil, fmt.Errorf("cannot parse OCI manifest: %w", err)
	}
	var digests []string
	for _, l := range m.Layers {
		if l.MediaType == wasmLayerMediaType {
			digests = append(digests, l.Digest)
		}
	}
	return digests, nil
}
