package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/petfeeder/internal/controlplane"
	"github.com/fentz26/petfeeder/internal/models"
	"github.com/spf13/cobra"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage feeding schedules",
}

var scheduleCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a schedule",
	Example: `  feeder schedule create --device kitchen --time 07:30=40 --time 18:00=35
  feeder schedule create --device hall --time 12:00=20 --days 1,2,3,4,5`,
	RunE: runScheduleCreate,
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List schedules",
	RunE:  runScheduleList,
}

var scheduleEnableCmd = &cobra.Command{
	Use:   "enable [schedule-id]",
	Short: "Activate a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleSchedule(cmd, args[0], true) },
}

var scheduleDisableCmd = &cobra.Command{
	Use:   "disable [schedule-id]",
	Short: "Deactivate a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return toggleSchedule(cmd, args[0], false) },
}

var scheduleDeleteCmd = &cobra.Command{
	Use:   "delete [schedule-id]",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleDelete,
}

var (
	schDevice   string
	schPet      string
	schName     string
	schTimes    []string
	schDays     []int
	schInactive bool
)

func init() {
	scheduleCmd.AddCommand(scheduleCreateCmd, scheduleListCmd, scheduleEnableCmd, scheduleDisableCmd, scheduleDeleteCmd)

	scheduleCreateCmd.Flags().StringVar(&schDevice, "device", "", "Device id (required)")
	scheduleCreateCmd.Flags().StringVar(&schPet, "pet", "", "Pet id")
	scheduleCreateCmd.Flags().StringVar(&schName, "name", "", "Display name")
	scheduleCreateCmd.Flags().StringArrayVar(&schTimes, "time", nil, "Feeding time as HH:MM=grams (repeatable, required)")
	scheduleCreateCmd.Flags().IntSliceVar(&schDays, "days", []int{0, 1, 2, 3, 4, 5, 6}, "Days of week, 0=Sunday")
	scheduleCreateCmd.Flags().BoolVar(&schInactive, "inactive", false, "Create the schedule disabled")
	scheduleCreateCmd.MarkFlagRequired("device")
	scheduleCreateCmd.MarkFlagRequired("time")
}

// parseFeedingTime reads "07:30=40".
func parseFeedingTime(s string) (models.FeedingTime, error) {
	at, g, ok := strings.Cut(s, "=")
	if !ok {
		return models.FeedingTime{}, fmt.Errorf("feeding time %q must be HH:MM=grams", s)
	}
	grams, err := strconv.Atoi(g)
	if err != nil {
		return models.FeedingTime{}, fmt.Errorf("feeding time %q: grams must be a whole number", s)
	}
	return models.FeedingTime{Time: strings.TrimSpace(at), PortionGrams: grams}, nil
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	req := controlplane.ScheduleRequest{
		DeviceID:   schDevice,
		PetID:      schPet,
		Name:       schName,
		DaysOfWeek: schDays,
	}
	for _, s := range schTimes {
		ft, err := parseFeedingTime(s)
		if err != nil {
			return err
		}
		req.FeedingTimes = append(req.FeedingTimes, ft)
	}
	if schInactive {
		active := false
		req.Active = &active
	}

	sch, err := newClient().CreateSchedule(cmd.Context(), req)
	if err != nil {
		return err
	}
	fmt.Printf("Created schedule: %s\n", sch.ID)
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	list, err := newClient().ListSchedules(cmd.Context())
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No schedules found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tDEVICE\tTIMES\tDAYS\tACTIVE")
	for _, s := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n",
			truncateID(s.ID), dash(s.Name), s.DeviceID, formatTimes(s.FeedingTimes), formatDays(s.DaysOfWeek), s.Active)
	}
	return w.Flush()
}

func toggleSchedule(cmd *cobra.Command, id string, active bool) error {
	sch, err := newClient().ToggleSchedule(cmd.Context(), id, active)
	if err != nil {
		return err
	}
	state := "disabled"
	if sch.Active {
		state = "enabled"
	}
	fmt.Printf("Schedule %s %s\n", truncateID(sch.ID), state)
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	if err := newClient().DeleteSchedule(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Schedule %s deleted\n", truncateID(args[0]))
	return nil
}

func formatTimes(times []models.FeedingTime) string {
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = fmt.Sprintf("%s=%dg", t.Time, t.PortionGrams)
	}
	return strings.Join(parts, ",")
}

var dayNames = []string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat"}

func formatDays(days []int) string {
	if len(days) == 7 {
		return "daily"
	}
	parts := make([]string, 0, len(days))
	for _, d := range days {
		if d >= 0 && d < len(dayNames) {
			parts = append(parts, dayNames[d])
		}
	}
	return strings.Join(parts, ",")
}
