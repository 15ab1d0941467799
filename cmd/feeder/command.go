package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/fentz26/petfeeder/internal/models"
	"github.com/spf13/cobra"
)

var commandCmd = &cobra.Command{
	Use:     "command",
	Aliases: []string{"cmd"},
	Short:   "Inspect and manage queued commands",
}

var commandListCmd = &cobra.Command{
	Use:   "list",
	Short: "List commands",
	RunE:  runCommandList,
}

var commandShowCmd = &cobra.Command{
	Use:   "show [command-id]",
	Short: "Show a command and its decision records",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommandShow,
}

var commandCancelCmd = &cobra.Command{
	Use:   "cancel [command-id]",
	Short: "Cancel a pending command",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommandCancel,
}

var commandStatusCmd = &cobra.Command{
	Use:   "status [command-id] [status]",
	Short: "Stamp a command status (device bridges only)",
	Args:  cobra.ExactArgs(2),
	RunE:  runCommandStatus,
}

var (
	cmdDevice string
	cmdStatus string
	cmdLimit  int
	cmdWait   time.Duration
	cmdError  string
)

func init() {
	commandCmd.AddCommand(commandListCmd, commandShowCmd, commandCancelCmd, commandStatusCmd)

	commandListCmd.Flags().StringVar(&cmdDevice, "device", "", "Only this device")
	commandListCmd.Flags().StringVar(&cmdStatus, "status", "", "Filter by status (PENDING, DELIVERED, EXECUTED, FAILED, CANCELLED)")
	commandListCmd.Flags().IntVar(&cmdLimit, "limit", 50, "Maximum commands to show")

	commandShowCmd.Flags().DurationVar(&cmdWait, "wait", 0, "Wait up to this long for the command to finish")

	commandStatusCmd.Flags().StringVar(&cmdError, "error", "", "Error message for FAILED")
}

func runCommandList(cmd *cobra.Command, args []string) error {
	var status models.CommandStatus
	if cmdStatus != "" {
		s, err := models.ParseCommandStatus(strings.ToUpper(cmdStatus))
		if err != nil {
			return err
		}
		status = s
	}

	cmds, err := newClient().ListCommands(cmd.Context(), cmdDevice, status, cmdLimit)
	if err != nil {
		return err
	}
	if len(cmds) == 0 {
		fmt.Println("No commands found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tKIND\tGRAMS\tSTATUS\tCREATED")
	for _, c := range cmds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(c.ID), c.DeviceID, c.Kind, grams(c), c.Status, c.CreatedAt.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runCommandShow(cmd *cobra.Command, args []string) error {
	client := newClient()
	c, err := client.GetCommand(cmd.Context(), args[0], cmdWait)
	if err != nil {
		return err
	}

	fmt.Printf("ID:        %s\n", c.ID)
	fmt.Printf("Device:    %s\n", c.DeviceID)
	fmt.Printf("Kind:      %s\n", c.Kind)
	if c.Kind == models.CommandFeed {
		fmt.Printf("Grams:     %s\n", grams(*c))
	}
	fmt.Printf("Status:    %s\n", c.Status)
	fmt.Printf("Priority:  %d\n", c.Priority)
	fmt.Printf("Token:     %s\n", c.IdempotencyToken)
	fmt.Printf("Created:   %s\n", c.CreatedAt.Local().Format(time.DateTime))
	if c.DeliveredAt != nil {
		fmt.Printf("Delivered: %s\n", c.DeliveredAt.Local().Format(time.DateTime))
	}
	if c.ExecutedAt != nil {
		fmt.Printf("Executed:  %s\n", c.ExecutedAt.Local().Format(time.DateTime))
	}
	if c.ErrorMessage != "" {
		fmt.Printf("Error:     %s\n", c.ErrorMessage)
	}

	decisions, err := client.Decisions(cmd.Context(), c.ID)
	if err != nil {
		return err
	}
	if len(decisions) > 0 {
		fmt.Println("\nDecisions:")
		for _, d := range decisions {
			fmt.Printf("  %s  %-16s %s\n", d.Timestamp.Local().Format(time.DateTime), d.Action, d.Outcome)
		}
	}
	return nil
}

func runCommandCancel(cmd *cobra.Command, args []string) error {
	c, err := newClient().CancelCommand(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Command %s cancelled\n", truncateID(c.ID))
	return nil
}

func runCommandStatus(cmd *cobra.Command, args []string) error {
	status, err := models.ParseCommandStatus(strings.ToUpper(args[1]))
	if err != nil {
		return err
	}
	c, err := newClient().UpdateCommandStatus(cmd.Context(), args[0], status, cmdError)
	if err != nil {
		return err
	}
	fmt.Printf("Command %s is now %s\n", truncateID(c.ID), c.Status)
	return nil
}

func grams(c models.Command) string {
	p, err := c.FeedPayload()
	if err != nil || p.TargetGrams == 0 {
		return "-"
	}
	return fmt.Sprintf("%d", p.TargetGrams)
}
