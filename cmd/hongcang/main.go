package main

import (
	"log"

	"github.com/joho/godotenv"

	"hongcang/internal/cli"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, finding env vars from system")
	}

	cli.Execute()
}
