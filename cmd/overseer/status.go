package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"overseer/internal/config"
	"overseer/internal/mailbox"
	"overseer/internal/state"
	"overseer/internal/view"
	"overseer/pkg/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the active project's progress",
	Long: `Display the state of the active project.

Shows:
  - Per-task status, assigned agent, and blocking dependencies
  - Overall progress (terminal tasks vs total)
  - Pending escalations awaiting a human answer`,
	RunE: runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	v, db, err := openView()
	if err != nil {
		return err
	}
	defer db.Close()

	project, err := db.GetActiveProject()
	if err != nil {
		return fmt.Errorf("look up active project: %w", err)
	}
	if project == nil {
		fmt.Println("No active project. Run 'overseer run <plan.yaml>' to start one.")
		return nil
	}

	summary, err := v.Summarize(project.ID)
	if err != nil {
		return fmt.Errorf("summarize project: %w", err)
	}
	fmt.Printf("Project: %s (%d/%d tasks terminal)\n\n", project.Name, summary.Terminal, summary.Total)

	rows, err := v.Tasks(project.ID)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}
	for _, row := range rows {
		line := fmt.Sprintf("%-20s %-18s", row.ID, row.Status)
		if row.AssignedAgent != "" {
			line += " agent=" + row.AssignedAgent
		}
		if row.Status == models.TaskStatusBlocked && len(row.DependsOn) > 0 {
			line += " waiting on " + strings.Join(row.DependsOn, ", ")
		}
		if row.Error != "" {
			line += " (" + row.Error + ")"
		}
		printStatus(statusSymbol(row.Status), line, statusColor(row.Status))
	}

	if escalations := v.PendingEscalations(); len(escalations) > 0 {
		fmt.Printf("\n%d escalation(s) awaiting your answer. Run 'overseer respond' to see them.\n", len(escalations))
	}
	return nil
}

// openView loads configuration and opens the read paths shared by the
// inspection commands.
func openView() (*view.View, *state.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if _, err := os.Stat(cfg.StateDBPath()); os.IsNotExist(err) {
		return nil, nil, fmt.Errorf("no overseer state found; run 'overseer run <plan.yaml>' first")
	}

	db, err := state.Open(cfg.StateDBPath())
	if err != nil {
		return nil, nil, fmt.Errorf("open state database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate state database: %w", err)
	}

	store, err := mailbox.NewStore(cfg.MailDir())
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("open mailbox: %w", err)
	}

	return view.New(store, db), db, nil
}

func statusSymbol(s models.TaskStatus) string {
	switch s {
	case models.TaskStatusMerged, models.TaskStatusApproved:
		return "✓"
	case models.TaskStatusFailed, models.TaskStatusNeedsHumanReview:
		return "✗"
	case models.TaskStatusRunning, models.TaskStatusConflictRetry:
		return "→"
	default:
		return "•"
	}
}

func statusColor(s models.TaskStatus) color.Attribute {
	switch s {
	case models.TaskStatusMerged, models.TaskStatusApproved:
		return color.FgGreen
	case models.TaskStatusFailed, models.TaskStatusNeedsHumanReview:
		return color.FgRed
	case models.TaskStatusRunning, models.TaskStatusConflictRetry:
		return color.FgCyan
	case models.TaskStatusCompleted:
		return color.FgBlue
	default:
		return color.FgWhite
	}
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
