package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"daladala.dev/tracker"
	"daladala.dev/tracker/downloader"
	"daladala.dev/tracker/parse"
	"daladala.dev/tracker/server"
	"daladala.dev/tracker/storage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the tracking backend",
	RunE:  serve,
}

var (
	port           int
	busIdleWindow  time.Duration
	catalogURL     string
	catalogRefresh time.Duration
)

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", 0, "TCP port to listen on (default: PORT env or 3000)")
	serveCmd.Flags().DurationVarP(&busIdleWindow, "bus-idle-window", "", 15*time.Minute, "Evict bus state idle this long (0 disables)")
	serveCmd.Flags().StringVarP(&catalogURL, "catalog-url", "", "", "Re-import the catalog from this URL periodically")
	serveCmd.Flags().DurationVarP(&catalogRefresh, "catalog-refresh", "", 24*time.Hour, "Catalog refresh interval")
	rootCmd.AddCommand(serveCmd)
}

func listenPort() int {
	if port != 0 {
		return port
	}
	if env := os.Getenv("PORT"); env != "" {
		if p, err := strconv.Atoi(env); err == nil {
			return p
		}
	}
	return 3000
}

func serve(cmd *cobra.Command, args []string) error {
	s, err := openStorage()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	catalog := tracker.NewCatalog(s)
	hub := server.NewHub(catalog)
	trk := tracker.NewTracker(catalog, hub)
	srv := server.NewServer(trk, s, hub)

	if catalogURL != "" {
		go func() {
			for {
				if err := refreshCatalog(s, catalogURL); err != nil {
					tracker.Logf("refreshing catalog: %v", err)
				}
				time.Sleep(catalogRefresh)
			}
		}()
	}

	if busIdleWindow > 0 {
		go func() {
			for range time.Tick(time.Minute) {
				if evicted := trk.EvictIdle(busIdleWindow); evicted > 0 {
					tracker.Logf("evicted %d idle bus states", evicted)
				}
			}
		}()
	}

	addr := fmt.Sprintf(":%d", listenPort())
	tracker.Logf("listening on %s", addr)
	return http.ListenAndServe(addr, srv.ServeMux())
}

func refreshCatalog(s storage.Storage, url string) error {
	buf, err := downloader.HTTPGet(context.Background(), url, nil, downloader.GetOptions{
		Timeout: time.Minute,
		MaxSize: 64 << 20,
	})
	if err != nil {
		return fmt.Errorf("downloading %s: %w", url, err)
	}

	counts, err := parse.ParseCatalog(s, buf)
	if err != nil {
		return err
	}

	tracker.Logf(
		"catalog refreshed: %d routes, %d stops, %d sublines",
		counts.Routes, counts.Stops, counts.Sublines,
	)
	return nil
}
