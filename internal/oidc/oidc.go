// Package oidc resolves the key-set endpoint from an issuer's well-known
// discovery document.
package oidc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

// maxDocumentSize bounds the discovery document body.
const maxDocumentSize = 1 << 20

// DiscoveryDocument holds the fields of the well-known OIDC configuration
// this module consumes.
type DiscoveryDocument struct {
	Issuer  string `json:"issuer"`
	JWKSURI string `json:"jwks_uri"`
}

// Discover fetches the issuer's /.well-known/openid-configuration document
// and returns it. The document's issuer must equal the requested issuer;
// anything else indicates a misconfigured or hostile endpoint.
func Discover(ctx context.Context, client *http.Client, issuerURL string) (*DiscoveryDocument, error) {
	u, err := url.Parse(issuerURL)
	if err != nil {
		return nil, fmt.Errorf("parsing issuer URL: %w", err)
	}
	u.Path = path.Join(u.Path, ".well-known/openid-configuration")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("building discovery request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching discovery document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("discovery request returned status %d, expected 200", resp.StatusCode)
	}

	var doc DiscoveryDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxDocumentSize)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decoding discovery document: %w", err)
	}

	if doc.Issuer != issuerURL {
		return nil, fmt.Errorf("discovery document issuer %q does not match requested issuer %q", doc.Issuer, issuerURL)
	}
	if doc.JWKSURI == "" {
		return nil, fmt.Errorf("discovery document carries no jwks_uri")
	}

	return &doc, nil
}
