package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var respondCmd = &cobra.Command{
	Use:   "respond [message-id] [answer]",
	Short: "List or answer escalated questions",
	Long: `With no arguments, lists questions the PM escalated to you.
With a message ID and answer, records your answer; the PM picks it up
on its next poll and relays it to the waiting agent.`,
	Args: cobra.MaximumNArgs(2),
	RunE: runRespond,
}

func runRespond(cmd *cobra.Command, args []string) error {
	v, db, err := openView()
	if err != nil {
		return err
	}
	defer db.Close()

	if len(args) == 0 {
		escalations := v.PendingEscalations()
		if len(escalations) == 0 {
			fmt.Println("No escalations waiting.")
			return nil
		}
		for _, msg := range escalations {
			printStatus("?", fmt.Sprintf("%s  [%s]", msg.ID, msg.Timestamp.Format("15:04:05")), color.FgYellow)
			fmt.Printf("  %s\n", msg.Body)
		}
		fmt.Println("\nAnswer with: overseer respond <message-id> \"<answer>\"")
		return nil
	}
	if len(args) != 2 {
		return fmt.Errorf("usage: overseer respond <message-id> <answer>")
	}

	if err := v.Respond(args[0], args[1]); err != nil {
		return fmt.Errorf("record answer: %w", err)
	}
	printStatus("✓", "answer recorded for "+args[0], color.FgGreen)
	return nil
}
