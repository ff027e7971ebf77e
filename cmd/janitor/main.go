// Command janitor runs one maintenance pass and exits, for cron-style
// scheduling outside the server.
package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"

	"ragdesk/internal/bootstrap"
)

func main() {
	purge := flag.Bool("purge", false, "delete tenants inactive for longer than janitor.inactive_after")
	sweep := flag.Bool("sweep", false, "remove index points that carry no tenant")
	flag.Parse()
	if !*purge && !*sweep {
		*purge, *sweep = true, true
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx)
	if err != nil {
		log.Fatalf("bootstrap failed: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.Printf("close resources failed: %v", err)
		}
	}()

	app.Janitor.RunOnce(ctx, *purge, *sweep)
}
