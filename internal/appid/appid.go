// Package appid resolves the application identity used for the binary name,
// environment prefix and config directories.
package appid

import (
	"context"

	"github.com/fulmenhq/gofulmen/appidentity"
)

// Identity values used when no .fulmen/app.yaml is discoverable.
const (
	Vendor      = "qrandom"
	BinaryName  = "qrandom"
	EnvPrefix   = "QRANDOM_"
	ConfigName  = "qrandom"
	Description = "Quantum randomness service with rate-limited upstream rotation and local fallback"
)

// Default returns the built-in identity.
func Default() *appidentity.Identity {
	return &appidentity.Identity{
		Vendor:      Vendor,
		BinaryName:  BinaryName,
		EnvPrefix:   EnvPrefix,
		ConfigName:  ConfigName,
		Description: Description,
	}
}

// Get returns the identity from .fulmen/app.yaml (or FULMEN_APP_IDENTITY_PATH)
// when present, and the built-in identity otherwise.
func Get(ctx context.Context) (*appidentity.Identity, error) {
	if identity, err := appidentity.Get(ctx); err == nil && identity != nil && identity.BinaryName != "" {
		return identity, nil
	}
	return Default(), nil
}
