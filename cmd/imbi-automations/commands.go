package main

import (
	"fmt"
	"io"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"imbi-automations/pkg/config"
	"imbi-automations/pkg/controller"
	"imbi-automations/pkg/persistence"
	"imbi-automations/pkg/resume"
	"imbi-automations/pkg/version"
)

func newRunCmd(flags *globalFlags) *cobra.Command {
	var (
		target controller.Target
		ov     overrides
		opts   controller.Options
	)
	cmd := &cobra.Command{
		Use:   "run WORKFLOW",
		Short: "Run a workflow against one project, a project type or every project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Output = cmd.OutOrStdout()
			a, err := newApp(cmd.Context(), flags.configPath, args[0], ov, opts)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.controller.Run(cmd.Context(), target)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("workflow %s did not complete successfully", a.workflow.Slug)
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.IntVar(&target.ProjectID, "project-id", 0, "process only this project")
	f.StringVar(&target.ProjectType, "project-type", "", "process every project of this type slug")
	f.BoolVar(&target.AllProjects, "all-projects", false, "process every project")
	cmd.MarkFlagsMutuallyExclusive("project-id", "project-type", "all-projects")
	cmd.MarkFlagsOneRequired("project-id", "project-type", "all-projects")
	f.BoolVar(&opts.ExitOnError, "exit-on-error", false, "stop at the first failed project")
	f.IntVar(&opts.MaxConcurrency, "max-concurrency", 0, "projects processed at once (default from configuration)")
	addOverrideFlags(cmd, &ov)
	return cmd
}

func addOverrideFlags(cmd *cobra.Command, ov *overrides) {
	f := cmd.Flags()
	f.BoolVar(&ov.dryRun, "dry-run", false, "keep changes in the dry run directory instead of publishing")
	f.BoolVar(&ov.preserveOnError, "preserve-on-error", false, "save the working directory when an action fails")
	f.StringVar(&ov.errorDir, "error-dir", "", "where failed working directories are saved")
	f.BoolVar(&ov.skipPreflight, "skip-preflight", false, "do not check for required tools and credentials")
}

func newResumeCmd(flags *globalFlags) *cobra.Command {
	var ov overrides
	cmd := &cobra.Command{
		Use:   "resume DIR",
		Short: "Resume a failed execution from its preserved working directory",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := resume.Read(args[0])
			if err != nil {
				return fmt.Errorf("failed to load resume state from %s: %w", args[0], err)
			}
			a, err := newApp(cmd.Context(), flags.configPath, state.WorkflowPath, ov, controller.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.controller.Resume(cmd.Context(), args[0])
			return err
		},
	}
	addOverrideFlags(cmd, &ov)
	return cmd
}

func newRerunFollowupCmd(flags *globalFlags) *cobra.Command {
	var (
		projectID int
		prNumber  int
		ov        overrides
	)
	cmd := &cobra.Command{
		Use:   "rerun-followup WORKFLOW",
		Short: "Run the followup actions of a workflow against an open pull request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), flags.configPath, args[0], ov, controller.Options{})
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.controller.RerunFollowup(cmd.Context(), projectID, prNumber)
			return err
		},
	}
	cmd.Flags().IntVar(&projectID, "project-id", 0, "project the pull request belongs to")
	cmd.Flags().IntVar(&prNumber, "pr-number", 0, "pull request number")
	_ = cmd.MarkFlagRequired("project-id")
	_ = cmd.MarkFlagRequired("pr-number")
	addOverrideFlags(cmd, &ov)
	return cmd
}

func newHistoryCmd(flags *globalFlags) *cobra.Command {
	var (
		workflowSlug string
		limit        int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded workflow runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Read(flags.configPath)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			if cfg.HistoryDB == "" {
				return fmt.Errorf("history_db is not configured")
			}
			store, err := persistence.Open(cfg.HistoryDB)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			runs, err := store.ListRuns(cmd.Context(), workflowSlug, limit)
			if err != nil {
				return err
			}
			renderHistory(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().StringVar(&workflowSlug, "workflow", "", "only runs of this workflow slug")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs (0 for all)")
	return cmd
}

func renderHistory(w io.Writer, runs []*persistence.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded")
		return
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(table.Row{"Started", "Workflow", "Project", "Result", "Duration", "Detail"})
	for _, run := range runs {
		tw.AppendRow(table.Row{
			run.StartedAt.Local().Format(time.DateTime),
			run.WorkflowSlug,
			run.ProjectSlug,
			runResult(run),
			run.Duration().Round(time.Second),
			runDetail(run),
		})
	}
	tw.Render()
}

func runResult(run *persistence.Run) string {
	switch {
	case !run.Success:
		return "failed"
	case !run.Completed:
		return "skipped"
	default:
		return "succeeded"
	}
}

func runDetail(run *persistence.Run) string {
	switch {
	case run.PullRequestURL != "":
		return run.PullRequestURL
	case run.PreservedPath != "":
		return run.PreservedPath
	default:
		return run.Error
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprint(cmd.OutOrStdout(), version.String())
		},
	}
}
