package main

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/fentz26/cfagents/internal/models"
	"github.com/spf13/cobra"
)

var messagesCmd = &cobra.Command{
	Use:     "messages",
	Aliases: []string{"msg"},
	Short:   "Inspect and publish bus messages",
}

var messagesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List persisted messages, oldest first",
	RunE:  runMessagesList,
}

var messagesSendCmd = &cobra.Command{
	Use:   "send [sender] [recipient] [type]",
	Short: "Publish a direct message",
	Args:  cobra.ExactArgs(3),
	RunE:  runMessagesSend,
}

var messagesBroadcastCmd = &cobra.Command{
	Use:   "broadcast [sender] [type]",
	Short: "Publish a message to every subscriber of a type",
	Args:  cobra.ExactArgs(2),
	RunE:  runMessagesBroadcast,
}

var messagesPendingCmd = &cobra.Command{
	Use:   "pending",
	Short: "List messages awaiting a response",
	RunE:  runMessagesPending,
}

var messagesCoordinateCmd = &cobra.Command{
	Use:   "coordinate [pattern] [from] [to...]",
	Short: "Run a coordination pattern (approval, delegate, share, parallel, announce)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runMessagesCoordinate,
}

var (
	msgAgent    string
	msgType     string
	msgPayload  string
	msgPriority string
	msgRespond  bool
	msgLimit    int
)

func init() {
	messagesCmd.AddCommand(messagesListCmd, messagesSendCmd, messagesBroadcastCmd, messagesPendingCmd, messagesCoordinateCmd)

	messagesListCmd.Flags().StringVar(&msgAgent, "agent", "", "Filter by sender or recipient")
	messagesListCmd.Flags().StringVar(&msgType, "type", "", "Filter by message type")
	messagesListCmd.Flags().IntVar(&msgLimit, "limit", 50, "Maximum number of messages")

	for _, c := range []*cobra.Command{messagesSendCmd, messagesBroadcastCmd, messagesCoordinateCmd} {
		c.Flags().StringVar(&msgPayload, "payload", "{}", "JSON object payload")
	}
	for _, c := range []*cobra.Command{messagesSendCmd, messagesBroadcastCmd} {
		c.Flags().StringVar(&msgPriority, "priority", "normal", "Priority (low, normal, high, critical)")
	}
	messagesSendCmd.Flags().BoolVar(&msgRespond, "requires-response", false, "Track the message until answered")
}

func runMessagesList(cmd *cobra.Command, args []string) error {
	q := url.Values{}
	q.Set("limit", fmt.Sprint(msgLimit))
	if msgAgent != "" {
		q.Set("agent", msgAgent)
	}
	if msgType != "" {
		q.Set("type", msgType)
	}
	var msgs []models.Message
	if err := apiGetJSON("/api/v1/messages?"+q.Encode(), &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages found")
		return nil
	}
	printMessages(msgs)
	return nil
}

func runMessagesSend(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	priority, err := models.ParsePriority(msgPriority)
	if err != nil {
		return err
	}
	body, err := apiPost("/api/v1/messages", map[string]any{
		"sender":            args[0],
		"recipient":         args[1],
		"message_type":      args[2],
		"priority":          priority,
		"payload":           payload,
		"requires_response": msgRespond,
	})
	if err != nil {
		return err
	}
	var res struct {
		MessageID string `json:"message_id"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}
	fmt.Printf("Published %s\n", res.MessageID)
	return nil
}

func runMessagesBroadcast(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	priority, err := models.ParsePriority(msgPriority)
	if err != nil {
		return err
	}
	body, err := apiPost("/api/v1/messages/broadcast", map[string]any{
		"sender":       args[0],
		"message_type": args[1],
		"priority":     priority,
		"payload":      payload,
	})
	if err != nil {
		return err
	}
	var res struct {
		Recipients int `json:"recipients"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}
	fmt.Printf("Broadcast to %d subscriber(s)\n", res.Recipients)
	return nil
}

func runMessagesPending(cmd *cobra.Command, args []string) error {
	var msgs []models.Message
	if err := apiGetJSON("/api/v1/messages/pending", &msgs); err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("Nothing awaiting a response")
		return nil
	}
	printMessages(msgs)
	return nil
}

func runMessagesCoordinate(cmd *cobra.Command, args []string) error {
	payload, err := parsePayload()
	if err != nil {
		return err
	}
	req := map[string]any{"from": args[1], "details": payload}
	targets := args[2:]
	if args[0] == "parallel" {
		req["participants"] = targets
	} else if len(targets) > 0 {
		req["to"] = targets[0]
	}

	body, err := apiPost("/api/v1/coordination/"+url.PathEscape(args[0]), req)
	if err != nil {
		return err
	}
	var res struct {
		MessageIDs []string `json:"message_ids"`
		Reached    int      `json:"reached"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return err
	}
	for _, id := range res.MessageIDs {
		fmt.Printf("Published %s\n", id)
	}
	if len(res.MessageIDs) == 0 {
		fmt.Printf("Reached %d subscriber(s)\n", res.Reached)
	}
	return nil
}

func parsePayload() (map[string]any, error) {
	payload := map[string]any{}
	if err := json.Unmarshal([]byte(msgPayload), &payload); err != nil {
		return nil, fmt.Errorf("--payload must be a JSON object: %w", err)
	}
	return payload, nil
}

func printMessages(msgs []models.Message) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tPRIORITY\tFROM\tTO\tTYPE\tRESPOND")
	for _, m := range msgs {
		respond := ""
		if m.RequiresResponse {
			respond = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			truncateID(m.ID), m.Timestamp.Local().Format("15:04:05"), m.Priority, m.Sender, m.Recipient, m.Type, respond)
	}
	w.Flush()
}
