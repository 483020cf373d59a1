package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/fentz26/cfagents/internal/agents"
	"github.com/fentz26/cfagents/internal/models"
	"github.com/spf13/cobra"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "Inspect agents and manage their skills",
}

var agentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List agents, core pool first",
	RunE:  runAgentsList,
}

var agentsAttachCmd = &cobra.Command{
	Use:   "attach [agent] [skill]",
	Short: "Attach a catalog skill to an agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentsAttach,
}

var agentsDetachCmd = &cobra.Command{
	Use:   "detach [agent] [skill]",
	Short: "Detach a skill from an agent",
	Args:  cobra.ExactArgs(2),
	RunE:  runAgentsDetach,
}

var agentsResetCmd = &cobra.Command{
	Use:   "reset [agent]",
	Short: "Return a failed agent to idle",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsReset,
}

var agentsRecommendCmd = &cobra.Command{
	Use:   "recommend [agent]",
	Short: "Recommend catalog skills for an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsRecommend,
}

var agentsInboxCmd = &cobra.Command{
	Use:   "inbox [agent]",
	Short: "Show messages the dispatcher routed to an agent",
	Args:  cobra.ExactArgs(1),
	RunE:  runAgentsInbox,
}

var (
	recommendMax int
	inboxTake    bool
)

func init() {
	agentsCmd.AddCommand(agentsListCmd, agentsAttachCmd, agentsDetachCmd, agentsResetCmd, agentsRecommendCmd, agentsInboxCmd)

	agentsRecommendCmd.Flags().IntVar(&recommendMax, "max", 5, "Maximum number of recommendations")
	agentsInboxCmd.Flags().BoolVar(&inboxTake, "take", false, "Remove the returned messages from the inbox")
}

func runAgentsList(cmd *cobra.Command, args []string) error {
	var list []agents.Info
	if err := apiGetJSON("/api/v1/agents", &list); err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSTATUS\tSLOTS\tSKILLS\tDONE")
	for _, a := range list {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%s\t%d\n",
			a.Name, a.Status, len(a.Skills), a.SkillSlots, truncate(strings.Join(a.Skills, ","), 50), a.Completed)
	}
	return w.Flush()
}

func runAgentsAttach(cmd *cobra.Command, args []string) error {
	if _, err := apiPost(agentPath(args[0])+"/skills", map[string]string{"skill": args[1]}); err != nil {
		return err
	}
	fmt.Printf("Attached %s to %s\n", args[1], args[0])
	return nil
}

func runAgentsDetach(cmd *cobra.Command, args []string) error {
	if _, err := apiDelete(agentPath(args[0]) + "/skills/" + url.PathEscape(args[1])); err != nil {
		return err
	}
	fmt.Printf("Detached %s from %s\n", args[1], args[0])
	return nil
}

func runAgentsReset(cmd *cobra.Command, args []string) error {
	if _, err := apiPost(agentPath(args[0])+"/reset", nil); err != nil {
		return err
	}
	fmt.Printf("%s is idle\n", args[0])
	return nil
}

func runAgentsRecommend(cmd *cobra.Command, args []string) error {
	var list []models.Skill
	if err := apiGetJSON(fmt.Sprintf("%s/recommendations?max=%d", agentPath(args[0]), recommendMax), &list); err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No skills list this agent")
		return nil
	}
	printSkills(list)
	return nil
}

func runAgentsInbox(cmd *cobra.Command, args []string) error {
	path := agentPath(args[0]) + "/inbox"
	if inboxTake {
		path += "?take=true"
	}
	var msgs []models.Message
	if err := apiGetJSON(path, &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("Inbox is empty")
		return nil
	}
	printMessages(msgs)
	return nil
}

func agentPath(name string) string {
	return "/api/v1/agents/" + url.PathEscape(name)
}

// --- Helpers ---

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func truncateID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8]
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
