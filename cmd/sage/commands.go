package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ataleck/sage/internal/config"
)

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Send a chat message to the assistant",
	Long: `Send a chat message to the assistant.

The reply is printed to stdout. Memory extraction for the exchange runs
in the background; check it with 'sage runs list'.

Examples:
  sage chat "Alice from Acme wants a demo next Tuesday"
  sage chat --conversation 4f1c... "what did Alice ask for?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		message := strings.Join(args, " ")
		conversation, _ := cmd.Flags().GetString("conversation")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"message": message}
		if conversation != "" {
			req["conversation_id"] = conversation
		}

		resp, err := client.post(cmd.Context(), "/chat", req)
		if err != nil {
			return err
		}

		var result struct {
			ConversationID string `json:"conversation_id"`
			Reply          string `json:"reply"`
			RunID          string `json:"run_id"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		fmt.Println(result.Reply)
		printStatus("Conversation", "%s", result.ConversationID)
		if result.RunID != "" {
			printStatus("Extraction run", "%s", result.RunID)
		}
		return nil
	},
}

func init() {
	chatCmd.Flags().String("conversation", "", "continue an existing conversation by ID")
}

// --- ingest ---

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Store knowledge directly, bypassing extraction",
	Long: `Store a knowledge chunk directly into semantic memory.

Examples:
  sage ingest --text "The staging cluster lives in eu-west-1" --tags infra
  sage ingest --url https://example.com/runbook --tags runbook
  sage ingest --file ./meeting-notes.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text, _ := cmd.Flags().GetString("text")
		pageURL, _ := cmd.Flags().GetString("url")
		file, _ := cmd.Flags().GetString("file")
		tagsStr, _ := cmd.Flags().GetString("tags")

		if text == "" && pageURL == "" && file == "" {
			return fmt.Errorf("one of --text, --url, or --file is required")
		}

		req := map[string]any{}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			req["tags"] = tags
		}

		switch {
		case text != "":
			req["type"] = "text"
			req["content"] = text
		case pageURL != "":
			req["type"] = "url"
			req["url"] = pageURL
		case file != "":
			data, err := os.ReadFile(file)
			if err != nil {
				return fmt.Errorf("reading file: %w", err)
			}
			if strings.EqualFold(filepath.Ext(file), ".pdf") {
				req["type"] = "pdf"
				req["content"] = base64.StdEncoding.EncodeToString(data)
			} else {
				req["type"] = "text"
				req["content"] = string(data)
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/knowledge", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Knowledge stored")
		return nil
	},
}

func init() {
	ingestCmd.Flags().String("text", "", "text content to store")
	ingestCmd.Flags().String("url", "", "URL to fetch and store")
	ingestCmd.Flags().String("file", "", "file path to store (.pdf or plain text)")
	ingestCmd.Flags().String("tags", "", "comma-separated tags")
}

// --- recall ---

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Semantic search over remembered knowledge",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := fmt.Sprintf("/knowledge/search?q=%s&limit=%d", url.QueryEscape(query), limit)
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var results []struct {
			ID    string  `json:"id"`
			Text  string  `json:"text"`
			Score float32 `json:"score"`
		}
		if err := decodeJSON(resp, &results); err != nil {
			return err
		}

		if len(results) == 0 {
			fmt.Println("No results found.")
			return nil
		}

		for i, r := range results {
			fmt.Printf("\n%s [score: %.3f]\n", colorize(colorBold, fmt.Sprintf("Result %d", i+1)), r.Score)
			text := r.Text
			if len(text) > 500 {
				text = text[:500] + "..."
			}
			fmt.Printf("  %s\n", text)
		}
		return nil
	},
}

func init() {
	recallCmd.Flags().Int("limit", 5, "maximum number of results")
}

// --- entities ---

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "Inspect remembered entities",
}

var entitiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all remembered entities",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/entities")
		if err != nil {
			return err
		}

		var entities []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Type    string `json:"type"`
			Details string `json:"details"`
		}
		if err := decodeJSON(resp, &entities); err != nil {
			return err
		}

		if len(entities) == 0 {
			fmt.Println("No entities remembered yet.")
			return nil
		}

		for _, e := range entities {
			details := e.Details
			if len(details) > 80 {
				details = details[:80] + "..."
			}
			fmt.Printf("%s  %-20s %-12s %s\n",
				colorize(colorCyan, e.ID[:8]),
				e.Name,
				e.Type,
				details,
			)
		}
		return nil
	},
}

var entitiesRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Forget an entity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/entities/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Forgot entity %s", args[0])
		return nil
	},
}

func init() {
	entitiesCmd.AddCommand(entitiesListCmd)
	entitiesCmd.AddCommand(entitiesRmCmd)
}

// --- contacts ---

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "Manage contacts",
}

var contactsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		path := "/contacts"
		if name != "" {
			path += "?name=" + url.QueryEscape(name)
		}
		resp, err := client.get(cmd.Context(), path)
		if err != nil {
			return err
		}

		var contacts []struct {
			ID      string `json:"id"`
			Name    string `json:"name"`
			Email   string `json:"email"`
			Company string `json:"company"`
		}
		if err := decodeJSON(resp, &contacts); err != nil {
			return err
		}

		if len(contacts) == 0 {
			fmt.Println("No contacts found.")
			return nil
		}

		for _, c := range contacts {
			fmt.Printf("%s  %-24s %-28s %s\n",
				colorize(colorCyan, c.ID[:8]),
				c.Name,
				c.Email,
				c.Company,
			)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Add or update a contact",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := strings.Join(args, " ")
		email, _ := cmd.Flags().GetString("email")
		company, _ := cmd.Flags().GetString("company")
		phone, _ := cmd.Flags().GetString("phone")
		notes, _ := cmd.Flags().GetString("notes")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		req := map[string]any{"name": name}
		if email != "" {
			req["email"] = email
		}
		if company != "" {
			req["company"] = company
		}
		if phone != "" {
			req["phone"] = phone
		}
		if notes != "" {
			req["notes"] = notes
		}

		resp, err := client.post(cmd.Context(), "/contacts", req)
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Stored contact %s", name)
		return nil
	},
}

var contactsRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.delete(cmd.Context(), "/contacts/"+args[0])
		if err != nil {
			return err
		}

		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Deleted contact %s", args[0])
		return nil
	},
}

func init() {
	contactsListCmd.Flags().String("name", "", "filter by name substring")
	contactsAddCmd.Flags().String("email", "", "email address")
	contactsAddCmd.Flags().String("company", "", "company")
	contactsAddCmd.Flags().String("phone", "", "phone number")
	contactsAddCmd.Flags().String("notes", "", "free-form notes")
	contactsCmd.AddCommand(contactsListCmd)
	contactsCmd.AddCommand(contactsAddCmd)
	contactsCmd.AddCommand(contactsRmCmd)
}

// --- runs ---

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect memory extraction runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent extraction runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), fmt.Sprintf("/runs?limit=%d", limit))
		if err != nil {
			return err
		}

		var runs []struct {
			ID          string `json:"id"`
			Status      string `json:"status"`
			StartTime   string `json:"start_time"`
			FinalOutput string `json:"final_output"`
		}
		if err := decodeJSON(resp, &runs); err != nil {
			return err
		}

		if len(runs) == 0 {
			fmt.Println("No runs found.")
			return nil
		}

		for _, run := range runs {
			status := run.Status
			switch status {
			case "completed":
				status = colorize(colorGreen, status)
			case "failed":
				status = colorize(colorRed, status)
			}
			fmt.Printf("%s  %s  %-9s %s\n",
				colorize(colorCyan, run.ID[:8]),
				run.StartTime,
				status,
				run.FinalOutput,
			)
		}
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a run with its pipeline steps",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/runs/"+args[0])
		if err != nil {
			return err
		}

		var run any
		if err := decodeJSON(resp, &run); err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	},
}

func init() {
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to list")
	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
