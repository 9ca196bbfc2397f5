/*
Copyright © 2025 tieubaoca
*/
package main

import (
	"github.com/joho/godotenv"

	"github.com/tieubaoca/docrag/cmd"
)

func main() {
	// .env is optional; real environment variables take precedence.
	_ = godotenv.Load()
	cmd.Execute()
}
