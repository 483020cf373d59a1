package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health and agent status",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	health, err := CheckHealth()
	if err != nil {
		return err
	}
	fmt.Printf("Daemon:  ok (db %s, version %s)\n", health.DB, health.Version)

	var st struct {
		Core        map[string]models.AgentStatus `json:"core_agents"`
		Specialized map[string]models.AgentStatus `json:"specialized_agents"`
		QueueSize   int                           `json:"task_queue_size"`
		Completed   int                           `json:"completed_tasks"`
		BusQueue    int                           `json:"bus_queue"`
		Pending     int                           `json:"pending_responses"`
		Dispatcher  map[string]any                `json:"dispatcher"`
	}
	if err := apiGetJSON("/api/v1/status", &st); err != nil {
		return err
	}

	fmt.Printf("Tasks:   %d queued, %d completed\n", st.QueueSize, st.Completed)
	fmt.Printf("Bus:     %d queued, %d awaiting response\n", st.BusQueue, st.Pending)
	if st.Dispatcher == nil {
		fmt.Println("Dispatcher: disabled")
	} else {
		fmt.Printf("Dispatcher: %v/%v workers, %v dispatched, %v answered\n",
			st.Dispatcher["active_workers"], st.Dispatcher["global_max"],
			st.Dispatcher["dispatched"], st.Dispatcher["answered"])
	}
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "POOL\tAGENT\tSTATUS")
	printPool(w, "core", st.Core)
	printPool(w, "specialized", st.Specialized)
	return w.Flush()
}

func printPool(w *tabwriter.Writer, pool string, statuses map[string]models.AgentStatus) {
	names := make([]string, 0, len(statuses))
	for name := range statuses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%s\t%s\t%s\n", pool, name, statuses[name])
	}
}

