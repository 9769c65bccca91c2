package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"daladala.dev/tracker/downloader"
	"daladala.dev/tracker/parse"
)

var importCmd = &cobra.Command{
	Use:   "import <catalog.zip | url>",
	Short: "Imports a zipped CSV catalog into storage",
	Long: "Imports a zipped CSV catalog into storage. The argument is " +
		"either a local file or an http(s) URL; downloads are cached " +
		"under the cache directory when one is given.",
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

var importCacheDir string

func init() {
	importCmd.Flags().StringVarP(&importCacheDir, "cache-dir", "", "", "Cache downloaded catalogs in this directory")
	rootCmd.AddCommand(importCmd)
}

func loadCatalogBytes(src string) ([]byte, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		buf, err := os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", src, err)
		}
		return buf, nil
	}

	options := downloader.GetOptions{
		Timeout: time.Minute,
		MaxSize: 64 << 20,
	}

	var dl downloader.Downloader
	if importCacheDir != "" {
		fs, err := downloader.NewFilesystem(importCacheDir)
		if err != nil {
			return nil, err
		}
		dl = fs
		options.Cache = true
		options.CacheTTL = 24 * time.Hour
	}

	if dl == nil {
		return downloader.HTTPGet(context.Background(), src, nil, options)
	}
	return dl.Get(context.Background(), src, nil, options)
}

func runImport(cmd *cobra.Command, args []string) error {
	buf, err := loadCatalogBytes(args[0])
	if err != nil {
		return err
	}

	s, err := openStorage()
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer s.Close()

	counts, err := parse.ParseCatalog(s, buf)
	if err != nil {
		return err
	}

	fmt.Printf(
		"imported %d routes, %d stops, %d sublines, %d sequence entries\n",
		counts.Routes, counts.Stops, counts.Sublines, counts.SublineStops,
	)
	return nil
}
