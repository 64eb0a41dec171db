package main

import (
	"log"
	"os"

	"github.com/raakeshmj/devicegateplane/internal/config"
	"github.com/raakeshmj/devicegateplane/internal/server"
)

func main() {
	cfg := config.Load()

	srv := server.New(cfg)

	if err := srv.Start(); err != nil {
		log.Printf("Server failed to start: %v", err)
		os.Exit(1)
	}
}
