// Command portal runs the MUD portal gateway: it binds the configured
// listeners, classifies and negotiates every connection (C5, C6),
// routes session traffic through the hub (C8), and relays it across a
// single upstream WebSocket link (C7) to the game backend.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drake/portal/config"
	"github.com/drake/portal/debug"
	"github.com/drake/portal/hub"
	"github.com/drake/portal/link"
	"github.com/drake/portal/listener"
)

// maxLineBuffer bounds how many undecoded bytes a session's codec will
// buffer before Decode fails with telnet.ErrBufferOverflow and the
// session closes (§5, resource limits).
const maxLineBuffer = 8192

func main() {
	configPath := flag.String("config", config.DefaultFile(), "path to configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	listeners, err := listener.Build(cfg, maxLineBuffer)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	lnk := link.New(cfg.Upstream.URL)
	h := hub.New(lnk)

	onLinkDown, onReconnect := h.LinkCallbacks(ctx)
	go lnk.Run(ctx, onLinkDown, onReconnect)

	go h.Run(ctx)

	monitor := debug.NewMonitor(ctx, h)
	monitor.Start()

	if cfg.AdminAddr != "" {
		adminServer := &http.Server{
			Addr:              cfg.AdminAddr,
			Handler:           hub.NewStatusHandler(h),
			ReadHeaderTimeout: 2 * time.Second,
		}
		go func() {
			<-ctx.Done()
			adminServer.Close()
		}()
		go func() {
			if err := adminServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("portal: admin status server: %v", err)
			}
		}()
		log.Printf("portal: admin status on http://%s/status", cfg.AdminAddr)
	}

	log.Printf("portal: %d listener(s) configured, upstream %s", len(listeners), cfg.Upstream.URL)
	listener.Supervise(ctx, listeners, h.Inbound())

	log.Println("portal: shut down complete")
}
