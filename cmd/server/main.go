package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"codeshare/internal/app"
)

func main() {
	addr := flag.String("addr", getEnv("CODESHARE_ADDR", ":8080"), "server listen address")
	path := flag.String("path", getEnv("CODESHARE_PATH", "/ws"), "websocket path")
	dbPath := flag.String("db", getEnv("CODESHARE_DB_PATH", app.DefaultDBPath()), "sqlite database path")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, app.ServerConfig{
		Addr:   *addr,
		Path:   *path,
		DBPath: *dbPath,
	})
	if err != nil {
		log.Fatalf("server error: %v", err)
	}

	log.Printf("Codeshare server listening on %s%s (db %s)", handle.Addr(), *path, *dbPath)
	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
