package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonesrussell/north-cloud/crawl-orchestrator/cmd/server"
)

func main() {
	if err := server.Run(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
