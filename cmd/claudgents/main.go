package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openclaudgents/claudgents/internal/claude"
	"github.com/openclaudgents/claudgents/internal/config"
	"github.com/openclaudgents/claudgents/internal/doctor"
	"github.com/openclaudgents/claudgents/internal/events"
	"github.com/openclaudgents/claudgents/internal/git"
	"github.com/openclaudgents/claudgents/internal/logging"
	"github.com/openclaudgents/claudgents/internal/settings"
	"github.com/openclaudgents/claudgents/internal/telemetry"
	"github.com/openclaudgents/claudgents/internal/tracing"
)

// Version is set at build time.
var Version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(
		logging.WithMaxFiles(cfg.LogMaxFiles),
		logging.WithMaxSizeBytes(cfg.LogMaxSizeBytes),
	)
	if err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() {
		if closeErr := logger.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close logger: %v\n", closeErr)
		}
	}()

	app, err := newApp(cfg, logger.Logger)
	if err != nil {
		return err
	}

	cmd := newRootCommand(app)
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// app wires the runtime services shared across subcommands.
type app struct {
	cfg      *config.Config
	logger   *log.Logger
	bus      *events.InMemoryBus
	manager  *claude.Manager
	store    *claude.SessionStore
	git      *git.Service
	settings *settings.Service
	baseDir  string
}

func newApp(cfg *config.Config, logger *log.Logger) (*app, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("resolve home directory: %w", err)
	}
	baseDir := filepath.Join(homeDir, ".claudgents")

	bus := events.New(events.WithLogger(logger))
	manager, err := claude.NewManager(bus, logger, claude.ManagerConfig{
		CLIPath:      cfg.CLIPath,
		DefaultModel: cfg.DefaultModel,
	})
	if err != nil {
		return nil, fmt.Errorf("create process manager: %w", err)
	}
	store, err := claude.NewSessionStore(cfg.ClaudeProjectsDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create session store: %w", err)
	}
	gitService, err := git.NewService(baseDir, logger)
	if err != nil {
		return nil, fmt.Errorf("create git service: %w", err)
	}
	settingsService, err := settings.NewService("", logger)
	if err != nil {
		return nil, fmt.Errorf("create settings service: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		bus:      bus,
		manager:  manager,
		store:    store,
		git:      gitService,
		settings: settingsService,
		baseDir:  baseDir,
	}, nil
}

func newRootCommand(app *app) *cobra.Command {
	var otelEndpoint string

	root := &cobra.Command{
		Use:           "claudgents",
		Short:         "Session manager for Claude Code CLI agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       Version,
	}
	root.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")
	root.PersistentFlags().StringVar(&otelEndpoint, "otel-endpoint", "", "OTLP trace collector endpoint override")

	var telemetryShutdown func()
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}
		endpoint := otelEndpoint
		if endpoint == "" {
			endpoint = app.cfg.OTELEndpoint
		}
		if endpoint != "" {
			telemetry.SetEndpointOverride(endpoint)
		}
		shutdown, err := telemetry.Init(cmd.Context())
		if err != nil {
			return fmt.Errorf("initialize telemetry: %w", err)
		}
		telemetryShutdown = shutdown
		app.logger.With("command", cmd.Name()).Debug("command invocation")
		return nil
	}
	root.PersistentPostRun = func(*cobra.Command, []string) {
		if telemetryShutdown != nil {
			telemetryShutdown()
		}
	}

	root.AddCommand(
		newSendCommand(app),
		newSessionsCommand(app),
		newWatchCommand(app),
		newWorktreeCommand(app),
		newStatusCommand(app),
		newDoctorCommand(app),
		newTodosCommand(app),
		newTeamsCommand(app),
		newSkillsCommand(app),
		newMCPCommand(app),
		newMemoryCommand(app),
	)
	return root
}

func newSendCommand(app *app) *cobra.Command {
	var (
		sessionID string
		project   string
		model     string
	)

	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send a message to a Claude session and stream the reply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			workDir := project
			if workDir == "" {
				cwd, err := os.Getwd()
				if err != nil {
					return fmt.Errorf("resolve working directory: %w", err)
				}
				workDir = cwd
			}

			fresh := sessionID == ""
			if fresh {
				sessionID = uuid.NewString()
			}

			done := make(chan struct{})
			var once sync.Once
			app.bus.Subscribe(events.ClaudeTextDelta, func(event events.Event) {
				if payload, ok := event.Payload.(map[string]string); ok {
					fmt.Fprint(cmd.OutOrStdout(), payload["text"])
				}
			})
			app.bus.Subscribe(events.ClaudeStderr, func(event events.Event) {
				if payload, ok := event.Payload.(map[string]string); ok {
					fmt.Fprintln(cmd.ErrOrStderr(), payload["line"])
				}
			})
			app.bus.Subscribe(events.ClaudeMessageComplete, func(events.Event) {
				once.Do(func() { close(done) })
			})

			if fresh {
				if err := app.manager.Spawn(claude.SpawnOptions{
					SessionID: sessionID,
					WorkDir:   workDir,
					Model:     model,
				}); err != nil {
					return err
				}
			}
			if err := app.manager.SendMessage(sessionID, args[0], workDir); err != nil {
				return err
			}

			select {
			case <-done:
			case <-cmd.Context().Done():
				return app.manager.Kill(sessionID)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			fmt.Fprintf(cmd.OutOrStdout(), "session: %s\n", sessionID)
			return app.manager.Kill(sessionID)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "existing Claude session ID to resume")
	cmd.Flags().StringVar(&project, "project", "", "project working directory (default: cwd)")
	cmd.Flags().StringVar(&model, "model", "", "model override for this session")
	return cmd
}

func newSessionsCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect past Claude Code sessions",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions discovered from on-disk logs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sessions, err := app.store.DiscoverSessions()
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no sessions found")
				return nil
			}
			for _, session := range sessions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %-30s  %3d msgs  %s\n",
					session.ClaudeSessionID, truncate(session.Name, 30), session.MessageCount, session.ProjectPath)
			}
			return nil
		},
	}

	messages := &cobra.Command{
		Use:   "messages <claude-session-id>",
		Short: "Print the messages of one session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			messages, err := app.store.SessionMessages(args[0])
			if err != nil {
				return err
			}
			for _, message := range messages {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n", message.Role, strings.TrimSpace(string(message.Content)))
			}
			return nil
		},
	}

	cmd.AddCommand(list, messages)
	return cmd
}

func newWatchCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Watch the session log directory and report new activity",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app.bus.Subscribe(events.SessionDiscovered, func(events.Event) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s session activity detected\n", time.Now().Format(time.TimeOnly))
			})
			watcher := claude.NewSessionWatcher(app.store, app.bus, app.logger, app.cfg.WatchDebounce)
			err := watcher.Run(cmd.Context())
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
}

func newWorktreeCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worktree",
		Short: "Manage isolated session worktrees",
	}

	var project string
	create := &cobra.Command{
		Use:   "create <session-id>",
		Short: "Create a detached worktree for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := app.git.CreateWorktree(cmd.Context(), args[0], project)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (base %s)\n", info.Path, shortHash(info.BaseCommit))
			return nil
		},
	}
	create.Flags().StringVar(&project, "project", ".", "project repository path")

	var cleanupProject string
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove worktrees past the age and count limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			maxAge := time.Duration(app.cfg.WorktreeMaxAgeDays) * 24 * time.Hour
			removed, err := app.git.CleanupWorktrees(cmd.Context(), cleanupProject, maxAge, app.cfg.WorktreeMaxCount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d worktrees\n", len(removed))
			for _, path := range removed {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", path)
			}
			return nil
		},
	}
	cleanup.Flags().StringVar(&cleanupProject, "project", ".", "project repository path")

	var listProject string
	list := &cobra.Command{
		Use:   "list",
		Short: "List worktrees git tracks for a project",
		RunE: func(cmd *cobra.Command, _ []string) error {
			paths, err := app.git.ListWorktrees(cmd.Context(), listProject)
			if err != nil {
				return err
			}
			for _, path := range paths {
				fmt.Fprintln(cmd.OutOrStdout(), path)
			}
			return nil
		},
	}
	list.Flags().StringVar(&listProject, "project", ".", "project repository path")

	cmd.AddCommand(create, cleanup, list)
	return cmd
}

func newStatusCommand(app *app) *cobra.Command {
	var (
		watch    bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status [path]",
		Short: "Show git status for a project or worktree",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}

			if !watch {
				status, err := app.git.Status(cmd.Context(), path)
				if err != nil {
					return err
				}
				printStatus(cmd, status)
				return nil
			}

			app.bus.Subscribe(events.GitStatusChanged, func(event events.Event) {
				status, ok := event.Payload.(git.Status)
				if !ok {
					return
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\n", time.Now().Format(time.TimeOnly))
				printStatus(cmd, status)
			})
			err := app.git.WatchStatus(cmd.Context(), path, "", interval, app.bus)
			if err == context.Canceled {
				return nil
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&watch, "watch", false, "keep polling and print the status whenever it changes")
	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "poll interval used with --watch")
	return cmd
}

func printStatus(cmd *cobra.Command, status git.Status) {
	fmt.Fprintf(cmd.OutOrStdout(), "branch:    %s\n", status.Branch)
	fmt.Fprintf(cmd.OutOrStdout(), "dirty:     %v (%d files)\n", status.IsDirty, status.DirtyFileCount)
	fmt.Fprintf(cmd.OutOrStdout(), "commit:    %s %s\n", shortHash(status.LastCommitHash), status.LastCommitMessage)
	fmt.Fprintf(cmd.OutOrStdout(), "worktree:  %v\n", status.IsWorktree)
}

func newDoctorCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the environment claudgents depends on",
		RunE: func(cmd *cobra.Command, _ []string) error {
			manager, err := doctor.NewManager(doctor.Config{
				Detector: app.manager,
				GitProbe: func(ctx context.Context) (string, error) {
					result, err := tracing.ShellRunner{}.Run(ctx, "git", []string{"--version"}, ".")
					if err != nil {
						return "", err
					}
					return result.Stdout, nil
				},
				ProjectsDir: app.store.ProjectsDir(),
				LogDir:      filepath.Join(app.baseDir, "logs"),
			})
			if err != nil {
				return err
			}

			report := manager.Run(cmd.Context())
			for _, check := range report.Checks {
				mark := "ok"
				if !check.OK {
					mark = "FAIL"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-4s %-14s %s\n", mark, check.Name, check.Detail)
			}
			if !report.Healthy() {
				return fmt.Errorf("%d check(s) failed", failedCount(report))
			}
			return nil
		},
	}
}

func newTodosCommand(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "todos",
		Short: "List Claude's todo and task items",
		RunE: func(cmd *cobra.Command, _ []string) error {
			todos := app.settings.Todos()
			if len(todos) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no todos found")
				return nil
			}
			for _, todo := range todos {
				fmt.Fprintf(cmd.OutOrStdout(), "[%-11s] %s\n", todo.Status, todo.Content)
			}
			return nil
		},
	}
}

func newTeamsCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "teams",
		Short: "List configured agent teams",
		RunE: func(cmd *cobra.Command, _ []string) error {
			teams := app.settings.DiscoverTeams()
			if len(teams) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no teams found")
				return nil
			}
			for _, team := range teams {
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%d members)\n", team.Name, len(team.Members))
				for _, member := range team.Members {
					fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %s (%s)\n", member.Role, member.Name, member.AgentType)
				}
			}
			return nil
		},
	}

	tasks := &cobra.Command{
		Use:   "tasks <team-name>",
		Short: "Print the task entries recorded for one team",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks := app.settings.TeamTasks(args[0])
			if len(tasks) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no tasks found")
				return nil
			}
			for _, task := range tasks {
				fmt.Fprintln(cmd.OutOrStdout(), strings.TrimSpace(string(task)))
			}
			return nil
		},
	}
	cmd.AddCommand(tasks)
	return cmd
}

func newMCPCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Manage MCP server entries in settings.json",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List configured MCP servers",
		RunE: func(cmd *cobra.Command, _ []string) error {
			servers := app.settings.MCPServers()
			if len(servers) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no MCP servers configured")
				return nil
			}
			for _, server := range servers {
				state := "enabled"
				if !server.Enabled {
					state = "disabled"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s [%s] %s %s\n",
					server.Name, state, server.Command, strings.Join(server.Args, " "))
			}
			return nil
		},
	}

	add := &cobra.Command{
		Use:   "add <name> <command> [args...]",
		Short: "Add or replace an MCP server entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.settings.AddMCPServer(args[0], args[1], args[2:]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", args[0])
			return nil
		},
	}

	remove := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove an MCP server entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.settings.RemoveMCPServer(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
			return nil
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <name>",
		Short: "Enable or disable an MCP server entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enabled, err := app.settings.ToggleMCPServer(args[0])
			if err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", args[0], state)
			return nil
		},
	}

	cmd.AddCommand(list, add, remove, toggle)
	return cmd
}

func newMemoryCommand(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Read or write a project's CLAUDE.md",
	}

	var showProject string
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the project's CLAUDE.md",
		RunE: func(cmd *cobra.Command, _ []string) error {
			content, exists, err := app.settings.ProjectMemory(showProject)
			if err != nil {
				return err
			}
			if !exists {
				fmt.Fprintln(cmd.OutOrStdout(), "no CLAUDE.md found")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}
	show.Flags().StringVar(&showProject, "project", ".", "project path")

	var setProject string
	set := &cobra.Command{
		Use:   "set <content>",
		Short: "Replace the project's CLAUDE.md",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.settings.UpdateProjectMemory(setProject, args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "CLAUDE.md updated")
			return nil
		},
	}
	set.Flags().StringVar(&setProject, "project", ".", "project path")

	cmd.AddCommand(show, set)
	return cmd
}

func newSkillsCommand(app *app) *cobra.Command {
	var project string
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List custom skills and slash commands",
		RunE: func(cmd *cobra.Command, _ []string) error {
			skills := app.settings.DiscoverSkills(project)
			if len(skills) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no skills found")
				return nil
			}
			for _, skill := range skills {
				fmt.Fprintf(cmd.OutOrStdout(), "%-20s [%s] %s\n", skill.Name, skill.Source, skill.Description)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&project, "project", "", "project path for project-level skills")
	return cmd
}

func failedCount(report doctor.Report) int {
	count := 0
	for _, check := range report.Checks {
		if !check.OK {
			count++
		}
	}
	return count
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit-3] + "..."
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
