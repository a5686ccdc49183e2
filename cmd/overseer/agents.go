package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"overseer/pkg/models"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Show the live agent pool",
	RunE:  runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	v, db, err := openView()
	if err != nil {
		return err
	}
	defer db.Close()

	rows := v.Agents()
	if len(rows) == 0 {
		fmt.Println("No agents on record.")
		return nil
	}

	for _, a := range rows {
		line := fmt.Sprintf("%-14s %-10s %-10s %-18s", a.ID, a.Kind, a.Status, a.Role)
		if a.CurrentTask != "" {
			line += " task=" + a.CurrentTask
		}
		if a.PID != 0 {
			line += fmt.Sprintf(" pid=%d", a.PID)
		}
		if !a.LastSeen.IsZero() {
			line += " seen " + time.Since(a.LastSeen).Round(time.Second).String() + " ago"
		}
		printStatus(agentSymbol(a.Status), line, agentColor(a.Status))
	}
	return nil
}

func agentSymbol(s models.AgentStatus) string {
	switch s {
	case models.AgentStatusActive:
		return "→"
	case models.AgentStatusTerminated:
		return "✗"
	default:
		return "•"
	}
}

func agentColor(s models.AgentStatus) color.Attribute {
	switch s {
	case models.AgentStatusActive:
		return color.FgCyan
	case models.AgentStatusStandby:
		return color.FgYellow
	case models.AgentStatusTerminated:
		return color.FgRed
	default:
		return color.FgWhite
	}
}
