package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"overseer/internal/agent"
	"overseer/internal/bus"
	"overseer/internal/config"
	"overseer/internal/git"
	"overseer/internal/graph"
	"overseer/internal/mailbox"
	"overseer/internal/merge"
	"overseer/internal/orchestrator"
	"overseer/internal/plan"
	"overseer/internal/pm"
	"overseer/internal/state"
	"overseer/pkg/models"
)

var (
	runResume      bool
	runMaxParallel int
)

var runCmd = &cobra.Command{
	Use:   "run <plan.yaml>",
	Short: "Run a task plan with agent orchestration",
	Long: `Run a plan of dependent tasks using parallel coding agents.

Each ready task (all dependencies merged) is handed to an agent in an
isolated clone of the repository. When the agent reports completion the
AI project manager reviews the diff; approved work is merged onto the
main branch. Merge conflicts spawn dedicated resolver agents with a
bounded retry budget; exhausted tasks are parked for human review.

Use --resume to pick up the active project from a previous run: tasks
that already merged stay merged, and work that was in flight when the
process stopped is re-dispatched.`,
	Args: cobra.ExactArgs(1),
	RunE: runProject,
}

func init() {
	runCmd.Flags().BoolVar(&runResume, "resume", false, "Resume the active project instead of starting a new one")
	runCmd.Flags().IntVar(&runMaxParallel, "max-parallel", 0, "Override the configured agent parallelism cap")
}

func runProject(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if runMaxParallel > 0 {
		cfg.Orch.MaxParallelAgents = runMaxParallel
	}

	if err := CheckAgentBackend(cfg.Agents.Command); err != nil {
		return err
	}

	p, err := plan.Load(args[0])
	if err != nil {
		return fmt.Errorf("load plan: %w", err)
	}

	g := graph.New()
	if err := g.Build(p.ToTasks()); err != nil {
		return fmt.Errorf("build task graph: %w", err)
	}

	store, err := mailbox.NewStore(cfg.MailDir())
	if err != nil {
		return fmt.Errorf("open mailbox: %w", err)
	}
	markers, err := mailbox.NewMarkers(cfg.TasksDir())
	if err != nil {
		return fmt.Errorf("open task markers: %w", err)
	}

	db, err := state.Open(cfg.StateDBPath())
	if err != nil {
		return fmt.Errorf("open state database: %w", err)
	}
	defer db.Close()
	if err := db.Migrate(); err != nil {
		return fmt.Errorf("migrate state database: %w", err)
	}

	project, err := resolveProject(db, p)
	if err != nil {
		return err
	}

	client, err := pm.NewClient(pm.ClientConfig{
		Model:      cfg.Anthropic.Model,
		APIKey:     cfg.Anthropic.APIKey,
		UseBedrock: cfg.Anthropic.UseBedrock,
		AWSRegion:  cfg.Anthropic.AWSRegion,
		AWSProfile: cfg.Anthropic.AWSProfile,
	})
	if err != nil {
		return fmt.Errorf("create PM client: %w", err)
	}

	logger, err := orchestrator.NewDebugLogger(filepath.Join(cfg.LogsDir(), "orchestrator.log"))
	if err != nil {
		return fmt.Errorf("open debug log: %w", err)
	}
	defer logger.Close()

	repo := git.NewRunner(cfg.Git.RepoPath)
	manager := agent.NewManager(cfg, store, markers, repo, agent.ExecLauncher{})
	msgBus := bus.New(store)
	merger := merge.NewEngine(repo, markers, nil, cfg.Git.MainBranch, cfg.Retries.MaxConflict)

	orch := orchestrator.New(orchestrator.Options{
		Config:    cfg,
		Project:   *project,
		Graph:     g,
		Manager:   manager,
		Store:     store,
		Markers:   markers,
		Bus:       msgBus,
		Reviewer:  pm.NewReviewer(client),
		Merger:    merger,
		Diffs:     repo,
		Collector: repo,
		DB:        db,
		Logger:    logger,
	})

	if runResume {
		if err := orch.Resume(); err != nil {
			return fmt.Errorf("resume project: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nReceived interrupt, shutting down...")
		cancel()
	}()

	fmt.Printf("Project %s: %d tasks, up to %d parallel agents\n",
		project.Name, g.Size(), cfg.Orch.MaxParallelAgents)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range orch.Events() {
			printEvent(ev)
		}
	}()

	runErr := orch.Run(ctx)
	<-done
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// resolveProject creates a fresh project record, or returns the active one
// when resuming.
func resolveProject(db *state.DB, p *plan.Plan) (*models.Project, error) {
	if runResume {
		project, err := db.GetActiveProject()
		if err != nil {
			return nil, fmt.Errorf("look up active project: %w", err)
		}
		if project == nil {
			return nil, fmt.Errorf("no active project to resume; run without --resume")
		}
		return project, nil
	}

	project := &models.Project{
		ID:          uuid.New().String(),
		Name:        p.ProjectName,
		Description: p.Description,
		Status:      "active",
		CreatedAt:   time.Now(),
	}
	if err := db.CreateProject(project); err != nil {
		return nil, fmt.Errorf("create project: %w", err)
	}
	return project, nil
}

func printEvent(ev orchestrator.Event) {
	stamp := ev.Timestamp.Format("15:04:05")
	switch ev.Type {
	case orchestrator.EventTaskDispatched:
		printEventLine(stamp, "→", color.FgCyan, "%s dispatched to %s", ev.TaskID, ev.AgentID)
	case orchestrator.EventTaskCompleted:
		printEventLine(stamp, "•", color.FgBlue, "%s completed by %s", ev.TaskID, ev.AgentID)
	case orchestrator.EventTaskApproved:
		printEventLine(stamp, "✓", color.FgGreen, "%s approved", ev.TaskID)
	case orchestrator.EventTaskRejected:
		printEventLine(stamp, "✗", color.FgRed, "%s rejected: %s", ev.TaskID, ev.Message)
	case orchestrator.EventTaskMerged:
		printEventLine(stamp, "✓", color.FgGreen, "%s merged", ev.TaskID)
	case orchestrator.EventMergeConflict:
		printEventLine(stamp, "!", color.FgYellow, "%s merge conflict: %s", ev.TaskID, ev.Message)
	case orchestrator.EventTaskStuck:
		printEventLine(stamp, "!", color.FgYellow, "%s reclaimed from stuck agent %s", ev.TaskID, ev.AgentID)
	case orchestrator.EventTaskNeedsHuman:
		printEventLine(stamp, "‼", color.FgRed, "%s needs human review: %s", ev.TaskID, ev.Message)
	case orchestrator.EventAgentSpawned:
		printEventLine(stamp, "+", color.FgCyan, "agent %s spawned", ev.AgentID)
	case orchestrator.EventAgentTerminated:
		printEventLine(stamp, "-", color.FgWhite, "agent %s terminated", ev.AgentID)
	case orchestrator.EventProjectDone:
		printEventLine(stamp, "★", color.FgGreen, "project finished: %s", ev.Message)
	default:
		printEventLine(stamp, "?", color.FgWhite, "%s %s %s", ev.Type, ev.TaskID, ev.Message)
	}
	if ev.Error != nil {
		fmt.Printf("           %s\n", color.New(color.FgRed).Sprint(ev.Error))
	}
}

func printEventLine(stamp, symbol string, attr color.Attribute, format string, args ...interface{}) {
	c := color.New(attr)
	fmt.Printf("[%s] %s %s\n", stamp, c.Sprint(symbol), fmt.Sprintf(format, args...))
}
