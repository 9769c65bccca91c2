package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

var stopsCmd = &cobra.Command{
	Use:   "stops [route_id]",
	Short: "Lists catalog stops, or the stop sequences of a route",
	Args:  cobra.RangeArgs(0, 1),
	RunE:  stops,
}

func init() {
	rootCmd.AddCommand(stopsCmd)
}

func stops(cmd *cobra.Command, args []string) error {
	s, err := openStorage()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := context.Background()

	if len(args) == 0 {
		stops, err := s.Stops(ctx)
		if err != nil {
			return err
		}
		for _, stop := range stops {
			fmt.Printf("%d: %s (%s)\n", stop.ID, stop.Name, stop.Code)
		}
		return nil
	}

	routeID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid route_id: %w", err)
	}

	byID, err := s.SublineStops(ctx, routeID)
	if err != nil {
		return err
	}
	for sublineID, stops := range byID {
		fmt.Printf("subline %d:\n", sublineID)
		for i, stop := range stops {
			fmt.Printf("  %2d. %s\n", i+1, stop.Name)
		}
	}
	return nil
}
