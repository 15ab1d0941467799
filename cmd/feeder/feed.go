package main

import (
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/spf13/cobra"
)

var feedCmd = &cobra.Command{
	Use:   "feed [device-id] [grams]",
	Short: "Queue a manual feed",
	Args:  cobra.ExactArgs(2),
	RunE:  runFeed,
}

var pauseCmd = &cobra.Command{
	Use:   "pause [device-id]",
	Short: "Hold feeds on a device until resumed",
	Args:  cobra.ExactArgs(1),
	RunE:  runPause,
}

var resumeCmd = &cobra.Command{
	Use:   "resume [device-id]",
	Short: "Release a paused device",
	Args:  cobra.ExactArgs(1),
	RunE:  runResume,
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show feeding history",
	RunE:  runEvents,
}

var (
	feedPet     string
	feedWait    time.Duration
	eventDevice string
	eventLimit  int
)

func init() {
	feedCmd.Flags().StringVar(&feedPet, "pet", "", "Pet id recorded on the feeding event")
	feedCmd.Flags().DurationVar(&feedWait, "wait", 0, "Wait up to this long for the feeder to finish (max 60s)")

	eventsCmd.Flags().StringVar(&eventDevice, "device", "", "Only this device")
	eventsCmd.Flags().IntVar(&eventLimit, "limit", 20, "Maximum events to show")
}

func runFeed(cmd *cobra.Command, args []string) error {
	grams, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("grams must be a whole number, got %q", args[1])
	}

	c, err := newClient().Feed(cmd.Context(), args[0], grams, feedPet, feedWait)
	if err != nil {
		return err
	}
	if feedWait > 0 {
		fmt.Printf("Feed %s: %s\n", truncateID(c.ID), c.Status)
		if c.Status == models.StatusFailed {
			return fmt.Errorf("feed failed: %s", c.ErrorMessage)
		}
		return nil
	}
	fmt.Printf("Queued feed: %s (%dg → %s)\n", c.ID, grams, c.DeviceID)
	return nil
}

func runPause(cmd *cobra.Command, args []string) error {
	c, err := newClient().Pause(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Queued pause: %s\n", c.ID)
	return nil
}

func runResume(cmd *cobra.Command, args []string) error {
	c, err := newClient().Resume(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Queued resume: %s\n", c.ID)
	return nil
}

func runEvents(cmd *cobra.Command, args []string) error {
	events, err := newClient().Events(cmd.Context(), eventDevice, eventLimit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Println("No feeding events found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tDEVICE\tPET\tGRAMS\tSTATUS\tCOMMAND")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.Timestamp.Local().Format(time.DateTime), e.DeviceID, dash(e.PetID), e.TargetGrams, e.Status, truncateID(e.CommandID))
	}
	return w.Flush()
}

func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return dash(id)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
