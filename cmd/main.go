package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"daladala.dev/tracker/storage"
)

var rootCmd = &cobra.Command{
	Use:          "tracker",
	Short:        "Real-time transit tracking backend",
	Long:         "Ingests driver GPS telemetry, infers sublines, and fans out realtime updates to passengers",
	SilenceUsage: true,
}

var (
	dbPath      string
	postgresURL string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&dbPath, "db", "", "", "Directory for the sqlite catalog (default: in-memory)")
	rootCmd.PersistentFlags().StringVarP(&postgresURL, "postgres", "", "", "Postgres connection string (overrides --db)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func openStorage() (storage.Storage, error) {
	if postgresURL != "" {
		return storage.NewPSQLStorage(postgresURL, false)
	}
	if dbPath != "" {
		return storage.NewSQLiteStorage(storage.SQLiteConfig{OnDisk: true, Directory: dbPath})
	}
	return storage.NewSQLiteStorage()
}
