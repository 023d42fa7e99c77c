package app

import (
	"os"
	"path/filepath"
	"runtime"
)

// ServerConfig defines how the HTTP/WebSocket backend should run.
type ServerConfig struct {
	Addr   string
	Path   string
	DBPath string
}

// ClientConfig defines the parameters the TUI client needs.
type ClientConfig struct {
	ServerURL    string
	Username     string
	RoomKey      string
	IdentityPath string
}

// DefaultDBPath returns a per-user data path for the bundled SQLite file.
func DefaultDBPath() string {
	if env := os.Getenv("CODESHARE_DB_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "codeshare.db")
}

// DefaultIdentityPath returns where the client keeps its stable user id.
func DefaultIdentityPath() string {
	if env := os.Getenv("CODESHARE_IDENTITY_PATH"); env != "" {
		return env
	}
	return filepath.Join(dataDir(), "identity.json")
}

func dataDir() string {
	if env := os.Getenv("CODESHARE_DATA_DIR"); env != "" {
		return env
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "codeshare")
	}
	if runtime.GOOS == "windows" {
		if appData := os.Getenv("APPDATA"); appData != "" {
			return filepath.Join(appData, "Codeshare")
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, "Library", "Application Support", "Codeshare")
		}
		return filepath.Join(home, ".local", "share", "codeshare")
	}
	return filepath.Join(".", ".codeshare")
}

// NormalizeWSPath guarantees the websocket path starts with '/' and falls
// back to /ws when empty.
func NormalizeWSPath(path string) string {
	if path == "" {
		return "/ws"
	}
	if path[0] != '/' {
		return "/" + path
	}
	return path
}
