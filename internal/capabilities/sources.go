// Package capabilities declares the registry and DNS collaborators the
// router (C3) dispatches to, and loads the sources.yml file described in
// spec §6. The sigstore collaborator is verify.RemoteFetcher, and the
// verification config is loaded by cmd. These collaborators are treated as
// opaque per spec §1: this package owns only their interfaces, their thin
// go-containerregistry and stdlib implementations, and the sources
// configuration, never OCI or sigstore wire parsing.
package capabilities

import (
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"

	"sigs.k8s.io/yaml"
)

// CertificateEncoding distinguishes how a source authority certificate was encoded.
type CertificateEncoding int

const (
	CertificateEncodingPEM CertificateEncoding = iota
	CertificateEncodingDER
)

// Certificate is a parsed source-authority certificate, kept in its original
// encoding (spec §6: "Certificates must parse as either PEM or DER").
type Certificate struct {
	Encoding CertificateEncoding
	Data     []byte
}

// Sources is the parsed form of a sources.yml file.
type Sources struct {
	InsecureSources   map[string]bool
	SourceAuthorities map[string][]Certificate
}

// IsInsecureSource reports whether host was listed under insecure_sources.
func (s Sources) IsInsecureSource(host string) bool {
	return s.InsecureSources[host]
}

// SourceAuthority returns the trusted certificates configured for host, if any.
func (s Sources) SourceAuthority(host string) []Certificate {
	return s.SourceAuthorities[host]
}

type rawSourceAuthorityEntry struct {
	Type string `json:"type"`
	Data string `json:"data,omitempty"`
	Path string `json:"path,omitempty"`
}

type rawSources struct {
	InsecureSources   []string                             `json:"insecure_sources"`
	SourceAuthorities map[string][]rawSourceAuthorityEntry `json:"source_authorities"`
}

// LoadSourcesFile reads and validates a sources.yml file (spec §6).
func LoadSourcesFile(path string) (Sources, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Sources{}, fmt.Errorf("read sources file %s: %w", path, err)
	}

	var raw rawSources
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Sources{}, fmt.Errorf("parse sources file %s: %w", path, err)
	}

	sources := Sources{
		InsecureSources:   make(map[string]bool, len(raw.InsecureSources)),
		SourceAuthorities: make(map[string][]Certificate, len(raw.SourceAuthorities)),
	}
	for _, host := range raw.InsecureSources {
		sources.InsecureSources[host] = true
	}

	for host, entries := range raw.SourceAuthorities {
		certs := make([]Certificate, 0, len(entries))
		for _, entry := range entries {
			var raw []byte
			switch entry.Type {
			case "Data":
				raw = []byte(entry.Data)
			case "Path":
				b, err := os.ReadFile(entry.Path)
				if err != nil {
					return Sources{}, fmt.Errorf("cannot read certificate from file %s: %w", entry.Path, err)
				}
				raw = b
			default:
				return Sources{}, fmt.Errorf("unknown source authority type %q for host %s", entry.Type, host)
			}

			cert, err := parseCertificate(raw)
			if err != nil {
				return Sources{}, fmt.Errorf("invalid certificate for host %s: %w", host, err)
			}
			certs = append(certs, cert)
		}
		sources.SourceAuthorities[host] = certs
	}

	return sources, nil
}

func parseCertificate(raw []byte) (Certificate, error) {
	if block, _ := pem.Decode(raw); block != nil {
		return Certificate{Encoding: CertificateEncodingPEM, Data: raw}, nil
	}
	if _, err := x509.ParseCertificate(raw); err == nil {
		return Certificate{Encoding: CertificateEncodingDER, Data: raw}, nil
	}
	return Certificate{}, fmt.Errorf("raw certificate is not in PEM nor in DER encoding")
}
