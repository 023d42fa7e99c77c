package main

import (
	"flag"
	"fmt"
	"os"

	"codeshare/internal/app"
)

func main() {
	defaultServer := envOrDefault("CODESHARE_SERVER", "ws://localhost:8080/ws")
	defaultUser := envOrDefault("CODESHARE_USER", "")

	serverURL := flag.String("server", defaultServer, "WebSocket URL (e.g., ws://localhost:8080/ws)")
	username := flag.String("user", defaultUser, "display name shown to collaborators")
	identity := flag.String("identity", "", "path to the identity file (defaults to the per-user data dir)")
	flag.Parse()

	args := flag.Args()
	var roomKey string
	if len(args) >= 1 {
		roomKey = args[0]
	}

	cfg := app.ClientConfig{
		ServerURL:    *serverURL,
		RoomKey:      roomKey,
		Username:     *username,
		IdentityPath: *identity,
	}

	if err := app.RunClient(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
