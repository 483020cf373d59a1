package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/fentz26/cfagents/internal/config"
	"github.com/fentz26/cfagents/internal/controlplane"
	"github.com/fentz26/cfagents/internal/logging"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/spf13/cobra"
)

var workflowCmd = &cobra.Command{
	Use:     "workflow",
	Aliases: []string{"wf"},
	Short:   "Run workflows and inspect task results",
}

var workflowRunCmd = &cobra.Command{
	Use:   "run [workflow.yaml]",
	Short: "Run a workflow file",
	Long: `Runs every task in a workflow file.

Modes:
  sequential  one pass in priority order; tasks with unmet dependencies are skipped
  parallel    all tasks concurrently, no dependency checks
  graph       dependency order within the file; cycles are rejected`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflowRun,
}

var workflowSubmitCmd = &cobra.Command{
	Use:   "submit [workflow.yaml]",
	Short: "Queue the tasks of a workflow file on the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runWorkflowSubmit,
}

var workflowQueueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List queued tasks",
	RunE:  runWorkflowQueue,
}

var workflowDrainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Run the queued tasks once",
	RunE:  runWorkflowDrain,
}

var workflowResultsCmd = &cobra.Command{
	Use:   "results",
	Short: "List recorded task results",
	RunE:  runWorkflowResults,
}

var workflowDecisionsCmd = &cobra.Command{
	Use:   "decisions",
	Short: "List decision records",
	RunE:  runWorkflowDecisions,
}

var (
	workflowMode  string
	workflowLocal bool
	outputJSON    bool
	resultsTask   string
	listLimit     int
)

func init() {
	workflowCmd.AddCommand(workflowRunCmd, workflowSubmitCmd, workflowQueueCmd, workflowDrainCmd, workflowResultsCmd, workflowDecisionsCmd)

	workflowRunCmd.Flags().StringVar(&workflowMode, "mode", controlplane.ModeSequential, "Execution mode (sequential, parallel, graph)")
	workflowRunCmd.Flags().BoolVar(&workflowLocal, "local", false, "Run in-process instead of on the daemon")
	workflowRunCmd.Flags().BoolVar(&outputJSON, "json", false, "Print results as JSON")
	workflowDrainCmd.Flags().BoolVar(&outputJSON, "json", false, "Print results as JSON")

	workflowResultsCmd.Flags().StringVar(&resultsTask, "task", "", "Filter by task id")
	workflowResultsCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of results")
	workflowDecisionsCmd.Flags().IntVar(&listLimit, "limit", 20, "Maximum number of records")
}

func runWorkflowRun(cmd *cobra.Command, args []string) error {
	wf, err := config.LoadWorkflow(args[0])
	if err != nil {
		return err
	}

	var results []models.TaskResult
	if workflowLocal {
		results, err = runWorkflowLocal(wf)
	} else {
		var body []byte
		body, err = apiPost("/api/v1/workflows", map[string]any{"mode": workflowMode, "tasks": wf.Tasks})
		if err == nil {
			err = json.Unmarshal(body, &results)
		}
	}
	if err != nil {
		return err
	}

	printResults(results, len(wf.Tasks))
	return nil
}

// runWorkflowLocal wires the orchestrator in-process against the configured
// store and runs the workflow through the same service the daemon uses.
func runWorkflowLocal(wf *config.Workflow) ([]models.TaskResult, error) {
	logger, closeLog, err := logging.New(settings.Log)
	if err != nil {
		return nil, err
	}
	defer closeLog()

	rt, err := newRuntime(settings, logger)
	if err != nil {
		return nil, err
	}
	defer rt.store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	service := controlplane.NewService(rt.orch, rt.proto, rt.store, nil, logger)
	return service.RunWorkflow(ctx, workflowMode, wf.Tasks)
}

func runWorkflowSubmit(cmd *cobra.Command, args []string) error {
	wf, err := config.LoadWorkflow(args[0])
	if err != nil {
		return err
	}
	for _, t := range wf.Tasks {
		if _, err := apiPost("/api/v1/tasks", t); err != nil {
			return fmt.Errorf("submit %s: %w", t.ID, err)
		}
		fmt.Printf("Queued %s (%s on %s)\n", t.ID, t.Action, t.AgentName)
	}
	return nil
}

func runWorkflowQueue(cmd *cobra.Command, args []string) error {
	var tasks []models.AgentTask
	if err := apiGetJSON("/api/v1/tasks", &tasks); err != nil {
		return err
	}
	if len(tasks) == 0 {
		fmt.Println("No tasks queued")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tAGENT\tACTION\tPRIORITY\tDEPENDS ON\tSTATUS")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n", t.ID, t.AgentName, t.Action, t.Priority, t.Dependencies, t.Status)
	}
	return w.Flush()
}

func runWorkflowDrain(cmd *cobra.Command, args []string) error {
	body, err := apiPost("/api/v1/tasks/run", nil)
	if err != nil {
		return err
	}
	var results []models.TaskResult
	if err := json.Unmarshal(body, &results); err != nil {
		return err
	}
	printResults(results, -1)
	return nil
}

func runWorkflowResults(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(listLimit))
	if resultsTask != "" {
		q.Set("task_id", resultsTask)
	}
	var results []models.TaskResult
	if err := apiGetJSON("/api/v1/results?"+q.Encode(), &results); err != nil {
		return err
	}
	printResults(results, -1)
	return nil
}

func runWorkflowDecisions(cmd *cobra.Command, args []string) error {
	var entries []models.PDREntry
	if err := apiGetJSON(fmt.Sprintf("/api/v1/decisions?limit=%d", listLimit), &entries); err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("No decision records")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tACTION\tOUTCOME\tTASK\tDETAILS")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.Timestamp.Local().Format("2006-01-02 15:04:05"), e.Action, e.Outcome, e.TaskID, truncate(e.Details, 60))
	}
	return w.Flush()
}

// printResults prints a result table. submitted is the number of tasks sent,
// or -1 when unknown.
func printResults(results []models.TaskResult, submitted int) {
	if outputJSON {
		printJSON(results)
		return
	}
	if len(results) == 0 {
		fmt.Println("No tasks ran")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TASK\tAGENT\tACTION\tSTATUS\tDURATION\tOUTPUT")
	for _, r := range results {
		detail := r.Output
		if r.Error != "" {
			detail = r.Error
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.TaskID, r.Agent, r.Action, r.Status, r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond), truncate(detail, 60))
	}
	w.Flush()

	if submitted > len(results) {
		fmt.Printf("\n%d of %d task(s) were skipped; see `cfagents workflow decisions`\n", submitted-len(results), submitted)
	}
}
