// Command bucketsync-demo is a minimal harness that exercises the sync
// engine end-to-end against a real server: one Client, one Bucket, an
// in-memory store and ghost cache, logging lifecycle events through go-log.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"

	"github.com/wezm/bucketsync/bucket"
	"github.com/wezm/bucketsync/client"
	"github.com/wezm/bucketsync/ghost"
	"github.com/wezm/bucketsync/jsondiff"
	"github.com/wezm/bucketsync/store"
)

var logger = logging.Logger("bucketsync/demo")

func main() {
	serverURL := flag.String("server", "ws://localhost:8080/sock", "sync server WebSocket URL")
	bucketName := flag.String("bucket", "notes", "bucket name to synchronize")
	appID := flag.String("app-id", "demo-app", "application id")
	token := flag.String("token", "", "access token")
	clientID := flag.String("client-id", "bucketsync-demo", "client identifier sent in the init frame")
	debug := flag.Bool("debug", false, "enable debug logging")
	addSample := flag.Bool("add-sample", false, "add one sample object on startup")

	flag.Parse()

	if *debug {
		logging.SetLogLevel("*", "debug")
	} else {
		logging.SetLogLevel("*", "info")
	}

	if *token == "" {
		log.Fatal("bucketsync-demo: -token is required")
	}

	c, err := client.New(*serverURL, *clientID, *appID)
	if err != nil {
		log.Fatalf("bucketsync-demo: %v", err)
	}

	st := store.NewMemoryStore()
	ch := c.NewChannel(*bucketName, *token, ghost.NewMemoryStore(), st)
	b := bucket.New(*bucketName, st, ch)

	ctx, cancel := context.WithCancel(context.Background())

	go printEvents(b)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		logger.Info("shutting down")
		cancel()
	}()

	if *addSample {
		go func() {
			obj, err := b.Add(ctx, map[string]jsondiff.Value{"title": "Hello, bucketsync"})
			if err != nil {
				logger.Errorf("add sample failed: %v", err)
				return
			}
			logger.Infof("added sample object %s", obj.ID)
		}()
	}

	logger.Infof("connecting to %s bucket=%s", *serverURL, *bucketName)
	if err := c.Run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("bucketsync-demo: %v", err)
	}
}

func printEvents(b *bucket.Bucket) {
	for e := range b.Events() {
		switch e.Kind {
		case bucket.EventIndex:
			logger.Info("index: caught up with server")
		case bucket.EventIndexing:
			logger.Info("indexing: downloading initial index")
		case bucket.EventUpdate:
			logger.Infof("update: id=%s data=%v", e.ID, e.Data)
		case bucket.EventRemove:
			logger.Infof("remove: id=%s", e.ID)
		case bucket.EventError:
			logger.Warnf("error: id=%s err=%v", e.ID, e.Err)
		}
	}
}
