package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var (
	serverURL  string
	adminToken string
	Version    = "dev"
)

type Computer struct {
	ID           uint      `json:"id"`
	Hostname     string    `json:"hostname"`
	IPAddress    string    `json:"ip_address"`
	AgentVersion string    `json:"agent_version"`
	CurrentUser  *string   `json:"current_user"`
	Status       string    `json:"status"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

type LocalUser struct {
	Username   string `json:"username"`
	UID        int    `json:"uid"`
	IsLocked   bool   `json:"is_locked"`
	IsLoggedIn bool   `json:"is_logged_in"`
}

type EnrollmentToken struct {
	ID        uint       `json:"id"`
	Token     string     `json:"token"`
	Label     string     `json:"label"`
	UsedAt    *time.Time `json:"used_at"`
	CreatedAt time.Time  `json:"created_at"`
}

type Command struct {
	ID         uint    `json:"id"`
	Type       string  `json:"type"`
	TargetUser string  `json:"target_user"`
	Status     string  `json:"status"`
	Result     *string `json:"result"`
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "herdctl",
		Short: "herdctl - Manage a herd of Linux hosts",
		Long:  "Operator CLI for the herd coordinator: computers, enrollment tokens, and user commands",
	}

	rootCmd.PersistentFlags().StringVarP(&serverURL, "server", "s", envOr("HERD_SERVER_URL", "http://localhost:8080"), "Coordinator URL")
	rootCmd.PersistentFlags().StringVarP(&adminToken, "token", "t", os.Getenv("HERD_ADMIN_TOKEN"), "Admin bearer token")

	rootCmd.AddCommand(
		computersCmd(),
		computerCmd(),
		removeCmd(),
		tokensCmd(),
		userCmd("disable", "Lock a user account on a computer"),
		userCmd("enable", "Unlock a user account on a computer"),
		userCmd("logout", "Kill all sessions of a user on a computer"),
		commandsCmd(),
		auditCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func computersCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "computers",
		Aliases: []string{"ls", "list"},
		Short:   "List all registered computers",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Computers []Computer `json:"computers"`
			}
			if err := apiGet("/api/admin/computers", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tHOSTNAME\tSTATUS\tIP\tDESKTOP USER\tAGENT\tLAST SEEN")
			for _, c := range out.Computers {
				desktop := "-"
				if c.CurrentUser != nil {
					desktop = *c.CurrentUser
				}
				lastSeen := time.Since(c.LastSeenAt).Round(time.Second)
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s ago\n",
					c.ID, c.Hostname, c.Status, c.IPAddress, desktop, c.AgentVersion, lastSeen)
			}
			return w.Flush()
		},
	}
}

func computerCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "computer [id]",
		Short: "Show one computer with its users and pending commands",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Computer        Computer    `json:"computer"`
				Users           []LocalUser `json:"users"`
				PendingCommands []Command   `json:"pending_commands"`
			}
			if err := apiGet("/api/admin/computers/"+args[0], &out); err != nil {
				return err
			}

			c := out.Computer
			fmt.Printf("Computer: %s (id %d)\n", c.Hostname, c.ID)
			fmt.Printf("Status:     %s\n", c.Status)
			fmt.Printf("IP:         %s\n", c.IPAddress)
			fmt.Printf("Agent:      %s\n", c.AgentVersion)
			fmt.Printf("Last seen:  %s (%s ago)\n\n", c.LastSeenAt.Format(time.RFC3339), time.Since(c.LastSeenAt).Round(time.Second))

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "USERNAME\tUID\tLOCKED\tLOGGED IN")
			for _, u := range out.Users {
				fmt.Fprintf(w, "%s\t%d\t%v\t%v\n", u.Username, u.UID, u.IsLocked, u.IsLoggedIn)
			}
			w.Flush()

			if len(out.PendingCommands) > 0 {
				fmt.Printf("\nPending commands:\n")
				for _, pc := range out.PendingCommands {
					fmt.Printf("  #%d %s %s\n", pc.ID, pc.Type, pc.TargetUser)
				}
			}
			return nil
		},
	}
}

func removeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [id]",
		Short: "Remove a computer and everything tied to it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiDo(http.MethodDelete, "/api/admin/computers/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("Computer %s removed\n", args[0])
			return nil
		},
	}
}

func tokensCmd() *cobra.Command {
	tokens := &cobra.Command{
		Use:   "tokens",
		Short: "Manage enrollment tokens",
	}

	var label string
	generate := &cobra.Command{
		Use:   "generate",
		Short: "Generate a one-time enrollment token",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Token EnrollmentToken `json:"token"`
			}
			if err := apiDo(http.MethodPost, "/api/admin/tokens", map[string]string{"label": label}, &out); err != nil {
				return err
			}
			fmt.Printf("Token: %s\n", out.Token.Token)
			fmt.Println("\nRegister an agent with:")
			fmt.Printf("  sudo herd-agent --server %s --token %s\n", serverURL, out.Token.Token)
			return nil
		},
	}
	generate.Flags().StringVarP(&label, "label", "l", "", "Label for the token")

	list := &cobra.Command{
		Use:   "list",
		Short: "List enrollment tokens",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Tokens []EnrollmentToken `json:"tokens"`
			}
			if err := apiGet("/api/admin/tokens", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTOKEN\tLABEL\tSTATUS\tCREATED")
			for _, tok := range out.Tokens {
				status := "unused"
				if tok.UsedAt != nil {
					status = "used " + tok.UsedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%s...\t%s\t%s\t%s\n",
					tok.ID, tok.Token[:8], tok.Label, status, tok.CreatedAt.Format("2006-01-02 15:04"))
			}
			return w.Flush()
		},
	}

	revoke := &cobra.Command{
		Use:   "revoke [id]",
		Short: "Revoke a token (deletes it even if already used)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := apiDo(http.MethodDelete, "/api/admin/tokens/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("Token %s revoked\n", args[0])
			return nil
		},
	}

	tokens.AddCommand(generate, list, revoke)
	return tokens
}

func userCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   fmt.Sprintf("%s [computer-id] [username]", action),
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := strconv.ParseUint(args[0], 10, 32); err != nil {
				return fmt.Errorf("invalid computer id %q", args[0])
			}
			path := fmt.Sprintf("/api/admin/computers/%s/users/%s/%s", args[0], args[1], action)
			var out struct {
				Command Command `json:"command"`
			}
			if err := apiDo(http.MethodPost, path, nil, &out); err != nil {
				return err
			}
			fmt.Printf("Queued %s for %s on computer %s (command #%d)\n", action, args[1], args[0], out.Command.ID)
			return nil
		},
	}
}

func commandsCmd() *cobra.Command {
	commands := &cobra.Command{
		Use:   "commands",
		Short: "Inspect or cancel queued commands",
	}

	list := &cobra.Command{
		Use:   "list [computer-id]",
		Short: "Show recent command history for a computer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Commands     []Command `json:"commands"`
				PendingCount int64     `json:"pending_count"`
			}
			if err := apiGet("/api/admin/computers/"+args[0]+"/commands", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tUSER\tSTATUS\tRESULT")
			for _, c := range out.Commands {
				result := "-"
				if c.Result != nil {
					result = *c.Result
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n", c.ID, c.Type, c.TargetUser, c.Status, result)
			}
			w.Flush()
			fmt.Printf("\nPending: %d\n", out.PendingCount)
			return nil
		},
	}

	var targetUser string
	cancel := &cobra.Command{
		Use:   "cancel [computer-id]",
		Short: "Cancel pending commands for a computer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/admin/computers/" + args[0] + "/commands"
			if targetUser != "" {
				path += "?target_user=" + targetUser
			}
			var out struct {
				Cancelled int64 `json:"cancelled"`
			}
			if err := apiDo(http.MethodDelete, path, nil, &out); err != nil {
				return err
			}
			fmt.Printf("Cancelled %d pending command(s)\n", out.Cancelled)
			return nil
		},
	}
	cancel.Flags().StringVarP(&targetUser, "user", "u", "", "Only cancel commands targeting this user")

	commands.AddCommand(list, cancel)
	return commands
}

func auditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Show recent operator actions",
		RunE: func(cmd *cobra.Command, args []string) error {
			var out struct {
				Entries []struct {
					Actor          string    `json:"actor"`
					Action         string    `json:"action"`
					TargetComputer string    `json:"target_computer"`
					TargetUser     string    `json:"target_user"`
					Details        string    `json:"details"`
					CreatedAt      time.Time `json:"created_at"`
				} `json:"entries"`
			}
			if err := apiGet("/api/admin/audit", &out); err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tACTOR\tACTION\tCOMPUTER\tUSER\tDETAILS")
			for _, e := range out.Entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					e.CreatedAt.Format("2006-01-02 15:04:05"), e.Actor, e.Action, e.TargetComputer, e.TargetUser, e.Details)
			}
			return w.Flush()
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("herdctl version %s\n", Version)
		},
	}
}

func apiGet(path string, out any) error {
	return apiDo(http.MethodGet, path, nil, out)
}

func apiDo(method, path string, payload, out any) error {
	if adminToken == "" {
		return fmt.Errorf("admin token required (set HERD_ADMIN_TOKEN or --token)")
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, serverURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+adminToken)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(resp.Body)
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("server: %s", apiErr.Error)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
