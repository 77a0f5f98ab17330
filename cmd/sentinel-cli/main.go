// Package main implements the sentinel-cli command-line tool.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/effaaykhan/Data-Loss-Prevention/pkg/client"
	"github.com/effaaykhan/Data-Loss-Prevention/pkg/models"
)

var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getClient creates an API client from the command flags.
func getClient(cmd *cobra.Command) *client.Client {
	apiURL, _ := cmd.Root().PersistentFlags().GetString("api-url")
	apiKey, _ := cmd.Root().PersistentFlags().GetString("api-key")
	if apiKey == "" {
		apiKey = os.Getenv("SENTINEL_API_KEY")
	}

	return client.New(client.Config{
		BaseURL: apiURL,
		APIKey:  apiKey,
		Timeout: 30 * time.Second,
	})
}

var rootCmd = &cobra.Command{
	Use:     "sentinel-cli",
	Short:   "Sentinel CLI - Data Loss Prevention",
	Long:    `Sentinel CLI provides command-line access to the Sentinel DLP server: policies, agents, events, and alerts.`,
	Version: version,
}

func init() {
	// Add subcommands
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(eventCmd)
	rootCmd.AddCommand(alertCmd)
	rootCmd.AddCommand(healthCmd)

	// Global flags
	rootCmd.PersistentFlags().String("api-url", "http://localhost:8080", "Sentinel server URL")
	rootCmd.PersistentFlags().String("api-key", "", "API key (or set SENTINEL_API_KEY)")
	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}

func jsonOutput(cmd *cobra.Command) bool {
	v, _ := cmd.Root().PersistentFlags().GetBool("json")
	return v
}

// ============================================================================
// Policy Commands
// ============================================================================

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Policy management",
	Long:  `Create, list, inspect, update, and delete DLP policies.`,
}

var policyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List policies",
	RunE:  runPolicyList,
}

var policyGetCmd = &cobra.Command{
	Use:   "get [policy-id]",
	Short: "Get a policy by ID",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyGet,
}

var policyCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a policy from a JSON file",
	RunE:  runPolicyCreate,
}

var policyUpdateCmd = &cobra.Command{
	Use:   "update [policy-id]",
	Short: "Update a policy from a JSON file",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyUpdate,
}

var policyDeleteCmd = &cobra.Command{
	Use:   "delete [policy-id]",
	Short: "Delete a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  runPolicyDelete,
}

var policyEnableCmd = &cobra.Command{
	Use:   "enable [policy-id]",
	Short: "Enable a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPolicyEnabled(cmd, args[0], true) },
}

var policyDisableCmd = &cobra.Command{
	Use:   "disable [policy-id]",
	Short: "Disable a policy",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setPolicyEnabled(cmd, args[0], false) },
}

func init() {
	policyListCmd.Flags().Int("limit", 50, "Maximum number of policies to return")
	policyListCmd.Flags().Int("offset", 0, "Pagination offset")

	policyCreateCmd.Flags().String("file", "", "JSON file containing the policy definition")
	policyUpdateCmd.Flags().String("file", "", "JSON file containing the policy definition")

	policyCmd.AddCommand(policyListCmd)
	policyCmd.AddCommand(policyGetCmd)
	policyCmd.AddCommand(policyCreateCmd)
	policyCmd.AddCommand(policyUpdateCmd)
	policyCmd.AddCommand(policyDeleteCmd)
	policyCmd.AddCommand(policyEnableCmd)
	policyCmd.AddCommand(policyDisableCmd)
}

func runPolicyList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	offset, _ := cmd.Flags().GetInt("offset")

	c := getClient(cmd)
	ctx := context.Background()

	policies, err := c.ListPolicies(ctx, limit, offset)
	if err != nil {
		return fmt.Errorf("list policies: %w", err)
	}

	if jsonOutput(cmd) {
		printJSON(policies)
	} else {
		for _, p := range policies {
			state := "disabled"
			if p.Enabled {
				state = "enabled"
			}
			fmt.Printf("%s  %-14s  %-8s  %-8s  %s\n", p.ID, p.Type, p.Severity, state, p.Name)
		}
	}
	return nil
}

func runPolicyGet(cmd *cobra.Command, args []string) error {
	c := getClient(cmd)
	ctx := context.Background()

	p, err := c.GetPolicy(ctx, args[0])
	if err != nil {
		return fmt.Errorf("get policy: %w", err)
	}

	if jsonOutput(cmd) {
		printJSON(p)
	} else {
		fmt.Printf("ID: %s\nName: %s\nType: %s\nSeverity: %s\nPriority: %d\nEnabled: %t\n",
			p.ID, p.Name, p.Type, p.Severity, p.Priority, p.Enabled)
		if p.Description != "" {
			fmt.Printf("Description: %s\n", p.Description)
		}
	}
	return nil
}

func runPolicyCreate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return fmt.Errorf("--file is required")
	}

	p, err := readPolicyFile(file)
	if err != nil {
		return err
	}

	c := getClient(cmd)
	created, err := c.CreatePolicy(context.Background(), p)
	if err != nil {
		return fmt.Errorf("create policy: %w", err)
	}

	if jsonOutput(cmd) {
		printJSON(created)
	} else {
		fmt.Printf("Policy created: %s (%s)\n", created.Name, created.ID)
	}
	return nil
}

func runPolicyUpdate(cmd *cobra.Command, args []string) error {
	file, _ := cmd.Flags().GetString("file")
	if file == "" {
		return fmt.Errorf("--file is required")
	}

	p, err := readPolicyFile(file)
	if err != nil {
		return err
	}
	p.ID = args[0]

	c := getClient(cmd)
	updated, err := c.UpdatePolicy(context.Background(), p)
	if err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	if jsonOutput(cmd) {
		printJSON(updated)
	} else {
		fmt.Printf("Policy updated: %s (%s)\n", updated.Name, updated.ID)
	}
	return nil
}

func runPolicyDelete(cmd *cobra.Command, args []string) error {
	c := getClient(cmd)
	if err := c.DeletePolicy(context.Background(), args[0]); err != nil {
		return fmt.Errorf("delete policy: %w", err)
	}
	fmt.Printf("Policy deleted: %s\n", args[0])
	return nil
}

func setPolicyEnabled(cmd *cobra.Command, id string, enabled bool) error {
	c := getClient(cmd)
	ctx := context.Background()

	p, err := c.GetPolicy(ctx, id)
	if err != nil {
		return fmt.Errorf("get policy: %w", err)
	}
	p.Enabled = enabled

	if _, err := c.UpdatePolicy(ctx, p); err != nil {
		return fmt.Errorf("update policy: %w", err)
	}

	state := "disabled"
	if enabled {
		state = "enabled"
	}
	fmt.Printf("Policy %s: %s\n", state, id)
	return nil
}

func readPolicyFile(path string) (*models.Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}
	var p models.Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse policy file: %w", err)
	}
	return &p, nil
}

// ============================================================================
// Agent Commands
// ============================================================================

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Agent management",
	Long:  `Inspect and remove registered endpoint agents.`,
}

var agentListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered agents",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := getClient(cmd)
		agents, err := c.ListAgents(context.Background(), limit, offset)
		if err != nil {
			return fmt.Errorf("list agents: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(agents)
		} else {
			for _, a := range agents {
				fmt.Printf("%s  %-20s  %-8s  %-10s  %s\n",
					a.AgentID, a.Hostname, a.OS, a.PolicySyncStatus, a.LastHeartbeat.Format(time.RFC3339))
			}
		}
		return nil
	},
}

var agentGetCmd = &cobra.Command{
	Use:   "get [agent-id]",
	Short: "Get an agent by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		a, err := c.GetAgent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get agent: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(a)
		} else {
			fmt.Printf("ID: %s\nHostname: %s\nOS: %s %s\nIP: %s\nVersion: %s\nPolicy version: %s\nSync status: %s\nLast heartbeat: %s\n",
				a.AgentID, a.Hostname, a.OS, a.OSVersion, a.IPAddress, a.Version,
				a.PolicyVersion, a.PolicySyncStatus, a.LastHeartbeat.Format(time.RFC3339))
			if a.PolicySyncError != "" {
				fmt.Printf("Sync error: %s\n", a.PolicySyncError)
			}
		}
		return nil
	},
}

var agentRemoveCmd = &cobra.Command{
	Use:   "remove [agent-id]",
	Short: "Remove a registered agent",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		if err := c.RemoveAgent(context.Background(), args[0]); err != nil {
			return fmt.Errorf("remove agent: %w", err)
		}
		fmt.Printf("Agent removed: %s\n", args[0])
		return nil
	},
}

func init() {
	agentListCmd.Flags().Int("limit", 50, "Maximum number of agents to return")
	agentListCmd.Flags().Int("offset", 0, "Pagination offset")

	agentCmd.AddCommand(agentListCmd)
	agentCmd.AddCommand(agentGetCmd)
	agentCmd.AddCommand(agentRemoveCmd)
}

// ============================================================================
// Event Commands
// ============================================================================

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event inspection",
	Long:  `Query monitoring events reported by agents.`,
}

var eventListCmd = &cobra.Command{
	Use:   "list",
	Short: "List events",
	RunE: func(cmd *cobra.Command, args []string) error {
		agentID, _ := cmd.Flags().GetString("agent")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := getClient(cmd)
		events, err := c.ListEvents(context.Background(), agentID, limit, offset)
		if err != nil {
			return fmt.Errorf("list events: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(events)
		} else {
			for _, e := range events {
				path := ""
				if e.File != nil {
					path = e.File.Path
				}
				fmt.Printf("%s  %-14s  %-9s  %-8s  %-10s  %s\n",
					e.EventID, e.Type, e.Subtype, e.Severity, e.ActionTaken, path)
			}
		}
		return nil
	},
}

var eventGetCmd = &cobra.Command{
	Use:   "get [event-id]",
	Short: "Get an event by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		e, err := c.GetEvent(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		printJSON(e)
		return nil
	},
}

func init() {
	eventListCmd.Flags().String("agent", "", "Filter by agent ID")
	eventListCmd.Flags().Int("limit", 50, "Maximum number of events to return")
	eventListCmd.Flags().Int("offset", 0, "Pagination offset")

	eventCmd.AddCommand(eventListCmd)
	eventCmd.AddCommand(eventGetCmd)
}

// ============================================================================
// Alert Commands
// ============================================================================

var alertCmd = &cobra.Command{
	Use:   "alert",
	Short: "Alert management",
	Long:  `List, inspect, and update DLP alerts.`,
}

var alertListCmd = &cobra.Command{
	Use:   "list",
	Short: "List alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		offset, _ := cmd.Flags().GetInt("offset")

		c := getClient(cmd)
		alerts, err := c.ListAlerts(context.Background(), status, limit, offset)
		if err != nil {
			return fmt.Errorf("list alerts: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(alerts)
		} else {
			for _, a := range alerts {
				fmt.Printf("%s  %-8s  %-12s  %s\n", a.AlertID, a.Severity, a.Status, a.Title)
			}
		}
		return nil
	},
}

var alertGetCmd = &cobra.Command{
	Use:   "get [alert-id]",
	Short: "Get an alert by ID",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		a, err := c.GetAlert(context.Background(), args[0])
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(a)
		} else {
			fmt.Printf("ID: %s\nEvent: %s\nSeverity: %s\nStatus: %s\nTitle: %s\nCreated: %s\n",
				a.AlertID, a.EventID, a.Severity, a.Status, a.Title, a.CreatedAt.Format(time.RFC3339))
			if a.Description != "" {
				fmt.Printf("Description: %s\n", a.Description)
			}
		}
		return nil
	},
}

var alertAckCmd = &cobra.Command{
	Use:   "ack [alert-id]",
	Short: "Acknowledge an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateAlertStatus(cmd, args[0], "acknowledged")
	},
}

var alertResolveCmd = &cobra.Command{
	Use:   "resolve [alert-id]",
	Short: "Resolve an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return updateAlertStatus(cmd, args[0], "resolved")
	},
}

func updateAlertStatus(cmd *cobra.Command, id, status string) error {
	c := getClient(cmd)
	if err := c.UpdateAlertStatus(context.Background(), id, status); err != nil {
		return fmt.Errorf("update alert status: %w", err)
	}
	fmt.Printf("Alert %s: %s\n", status, id)
	return nil
}

func init() {
	alertListCmd.Flags().String("status", "", "Filter by status (new, acknowledged, resolved)")
	alertListCmd.Flags().Int("limit", 50, "Maximum number of alerts to return")
	alertListCmd.Flags().Int("offset", 0, "Pagination offset")

	alertCmd.AddCommand(alertListCmd)
	alertCmd.AddCommand(alertGetCmd)
	alertCmd.AddCommand(alertAckCmd)
	alertCmd.AddCommand(alertResolveCmd)
}

// ============================================================================
// Health Command
// ============================================================================

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := getClient(cmd)
		h, err := c.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check: %w", err)
		}

		if jsonOutput(cmd) {
			printJSON(h)
		} else {
			fmt.Printf("Status: %s\nVersion: %s\n", h.Status, h.Version)
		}
		return nil
	},
}
