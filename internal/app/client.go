package app

import (
	"errors"

	intrnl "codeshare/internal"
)

// RunClient launches the Bubble Tea TUI with the provided configuration.
func RunClient(cfg ClientConfig) error {
	if cfg.ServerURL == "" {
		return errors.New("server URL is required")
	}
	if cfg.IdentityPath == "" {
		cfg.IdentityPath = DefaultIdentityPath()
	}
	return intrnl.RunClient(cfg.ServerURL, cfg.RoomKey, cfg.Username, cfg.IdentityPath)
}
