// Command propguard evaluates prop-firm challenge accounts against their
// firm's rules.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"propguard/internal/cli"
)

func main() {
	// PROPGUARD_* overrides may live in a local .env file.
	if err := loadEnvFile(".env"); err != nil {
		fmt.Fprintln(os.Stderr, "Warning:", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := cli.Execute(ctx)
	stop()
	os.Exit(code)
}

// loadEnvFile loads environment variables from envFile when it exists.
func loadEnvFile(envFile string) error {
	if _, err := os.Stat(envFile); err != nil {
		return nil
	}
	return godotenv.Load(envFile)
}
