package main

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"scan-dispatcher/internal/agent"
	"scan-dispatcher/internal/config"
	"scan-dispatcher/internal/store"
)

var (
	flagToken     string
	flagFileset   string
	flagRulesFile string
	flagEmail     string
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.StoreBackend != config.BackendPostgres {
			return fmt.Errorf("migrations only apply to the postgres store, STORE_BACKEND=%s", cfg.StoreBackend)
		}
		st, err := openStore(cmd.Context(), true)
		if err != nil {
			return err
		}
		return st.Close()
	},
}

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Manage and run scanning agents",
}

var agentAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register an agent and print its token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer st.Close()

		token := flagToken
		if token == "" {
			token = uuid.NewString()
		}
		id, err := st.CreateAgent(cmd.Context(), token)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "agent %d token %s\n", id, token)
		return nil
	},
}

var agentRunCmd = &cobra.Command{
	Use:   "run -- scanner [args...]",
	Short: "Poll the dispatcher and run claimed jobs with an external scanner",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		token := flagToken
		if token == "" {
			token = cfg.AgentToken
		}
		if token == "" {
			return errors.New("agent token required: set AGENT_TOKEN or --token")
		}
		client := agent.NewClient(cfg.DispatcherURL, token, nil)
		poller := agent.NewPoller(client, agent.CommandExecutor{Path: args[0], Args: args[1:]}, cfg)
		err := poller.Run(cmd.Context())
		if errors.Is(err, cmd.Context().Err()) {
			return nil
		}
		return err
	},
}

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Manage scan jobs",
}

var jobAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Queue a scan job",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if flagFileset == "" || flagRulesFile == "" {
			return errors.New("--fileset and --rules are required")
		}
		rules, err := os.ReadFile(flagRulesFile)
		if err != nil {
			return fmt.Errorf("read rules: %w", err)
		}

		st, err := openStore(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer st.Close()

		p := store.NewJobParams{FilesetScan: flagFileset, Rules: string(rules)}
		if flagEmail != "" {
			p.NotifyEmail = &flagEmail
		}
		id, err := st.CreateJob(cmd.Context(), p)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "job %d queued\n", id)
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build information",
	Run: func(cmd *cobra.Command, _ []string) {
		out := cmd.OutOrStdout()
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Fprintln(out, "dispatcher: version info not available")
			return
		}
		fmt.Fprintf(out, "dispatcher: %s\n", info.Main.Version)
		fmt.Fprintf(out, "go:         %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Fprintf(out, "commit:     %s\n", s.Value)
			case "vcs.time":
				fmt.Fprintf(out, "date:       %s\n", s.Value)
			}
		}
	},
}

func init() {
	agentAddCmd.Flags().StringVar(&flagToken, "token", "", "token to register (default: random uuid)")
	agentRunCmd.Flags().StringVar(&flagToken, "token", "", "agent token (default: AGENT_TOKEN)")
	agentCmd.AddCommand(agentAddCmd, agentRunCmd)

	jobAddCmd.Flags().StringVar(&flagFileset, "fileset", "", "fileset to scan")
	jobAddCmd.Flags().StringVar(&flagRulesFile, "rules", "", "path to a YARA rules file")
	jobAddCmd.Flags().StringVar(&flagEmail, "email", "", "address notified when the job finishes")
	jobCmd.AddCommand(jobAddCmd)
}
