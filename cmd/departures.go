package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"daladala.dev/tracker"
)

var departuresCmd = &cobra.Command{
	Use:   "departures <station_id>",
	Short: "Lists buses currently approaching a station",
	Long:  "Only useful against a live state; with no telemetry ingested the list is empty",
	Args:  cobra.ExactArgs(1),
	RunE:  departures,
}

var limit int

func init() {
	departuresCmd.Flags().IntVarP(&limit, "limit", "l", 10, "Limit the number of hints returned")
	rootCmd.AddCommand(departuresCmd)
}

func departures(cmd *cobra.Command, args []string) error {
	stationID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid station_id: %w", err)
	}

	s, err := openStorage()
	if err != nil {
		return err
	}
	defer s.Close()

	trk := tracker.NewTracker(tracker.NewCatalog(s), nopBroadcaster{})

	hints, err := trk.DeparturesForStation(stationID, limit)
	if err != nil {
		return err
	}

	for _, hint := range hints {
		eta := "unknown"
		if hint.EstimatedSeconds >= 0 {
			eta = fmt.Sprintf("%.0fs", hint.EstimatedSeconds)
		}
		fmt.Printf("bus %s on subline %d: %.0fm away, eta %s\n",
			hint.BusID, hint.SublineID, hint.DistanceMeters, eta)
	}
	return nil
}

type nopBroadcaster struct{}

func (nopBroadcaster) Broadcast(tracker.Message) {}
