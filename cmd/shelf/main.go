// Command shelf inspects and maintains shelf databases.
package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/adrianmcphee/shelf/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
