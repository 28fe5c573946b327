// Command goodrexport exports a Goodreads review history to XML and reads it back.
//
//	goodrexport export --secrets secrets.json5 --output goodreads-2024-05-01.xml
//	goodrexport reviews --source 'exports/goodreads-*.xml'
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
