package main

import (
	"fmt"
	"os"

	"github.com/soyeahso/handoff/internal/cli"
	"github.com/tillberg/autorestart"
)

func main() {
	// Development only: re-exec when the binary is rebuilt.
	if os.Getenv("HANDOFF_AUTORESTART") != "" {
		go autorestart.RestartOnChange()
	}

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
