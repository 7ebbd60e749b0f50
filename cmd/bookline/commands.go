package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcourtman/bookline/internal/auditlog"
	"github.com/rcourtman/bookline/internal/server"
	"github.com/rcourtman/bookline/internal/store"
	"github.com/rcourtman/bookline/internal/webhook"
)

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Account management commands",
}

var (
	registerID          string
	registerEmail       string
	registerDisplayName string
)

var accountRegisterCmd = &cobra.Command{
	Use:   "register",
	Short: "Register a new account in the pending state",
	Example: `  bookline account register --email owner@studio.example
  bookline account register --id acc_01HZX --email owner@studio.example --name "Studio Nine"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.ReadConfig()
		if err != nil {
			return err
		}
		initCLILogging(cfg)

		accounts, err := store.NewAccountStore(cfg.AccountsDir())
		if err != nil {
			return err
		}
		defer accounts.Close()

		id := strings.TrimSpace(registerID)
		if id == "" {
			id = store.GenerateAccountID()
		}
		acct := &store.Account{ID: id, Email: registerEmail, DisplayName: registerDisplayName}
		if err := accounts.Create(cmd.Context(), acct); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Registered account %s (%s)\n", acct.ID, acct.EntitlementState)
		return nil
	},
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the payment notification audit trail",
}

var (
	auditKind      string
	auditAccountID string
	auditLimit     int
	auditVerify    bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.ReadConfig()
		if err != nil {
			return err
		}
		initCLILogging(cfg)

		logger, err := auditlog.NewSQLiteLogger(auditlog.SQLiteLoggerConfig{
			DataDir:    cfg.DataDir,
			SigningKey: cfg.AuditSigningKey,
		})
		if err != nil {
			return err
		}
		defer logger.Close()

		entries, err := logger.Query(cmd.Context(), auditlog.Filter{
			Kind:      strings.TrimSpace(auditKind),
			AccountID: strings.TrimSpace(auditAccountID),
			Limit:     auditLimit,
		})
		if err != nil {
			return err
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		header := "TIME\tKIND\tOUTCOME\tSEVERITY\tEVENT\tACCOUNT\tMESSAGE"
		if auditVerify {
			header += "\tSIGNATURE"
		}
		fmt.Fprintln(tw, header)
		for _, e := range entries {
			line := fmt.Sprintf("%s\t%s\t%s\t%s\t%s\t%s\t%s",
				e.Timestamp.Format("2006-01-02T15:04:05Z07:00"),
				e.Kind, e.Outcome, e.Severity, e.EventID, e.AccountID, e.Message)
			if auditVerify {
				status := "invalid"
				if logger.Verify(e) {
					status = "ok"
				}
				line += "\t" + status
			}
			fmt.Fprintln(tw, line)
		}
		return tw.Flush()
	},
}

var webhookCmd = &cobra.Command{
	Use:   "webhook",
	Short: "Payment notification tools",
}

var (
	replayFile      string
	replaySignature string
	replayMaxAge    time.Duration
)

var webhookReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Feed a stored notification payload through the pipeline",
	Long: `Replay a stored provider notification. The payload is verified with the
configured webhook secret and the given signature header, and audited with
actor "replay".

Pass the Stripe-Signature header the payload was originally delivered with.
Live deliveries must be signed within five minutes; a replayed signature may
be as old as --max-age.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := server.ReadConfig()
		if err != nil {
			return err
		}
		initCLILogging(cfg)

		comps, err := server.Open(cfg)
		if err != nil {
			return err
		}
		defer comps.Close()

		resp, err := webhook.ReplayFile(cmd.Context(), comps.Webhooks, replayFile, replaySignature, replayMaxAge)
		if err != nil {
			return err
		}

		body, _ := json.Marshal(resp.Body)
		fmt.Fprintf(cmd.OutOrStdout(), "%d %s %s\n", resp.Status, resp.Kind, body)
		if resp.Status >= 400 {
			return fmt.Errorf("replay rejected with status %d", resp.Status)
		}
		return nil
	},
}

func init() {
	accountRegisterCmd.Flags().StringVar(&registerID, "id", "", "account id (generated when empty)")
	accountRegisterCmd.Flags().StringVar(&registerEmail, "email", "", "account owner email")
	accountRegisterCmd.Flags().StringVar(&registerDisplayName, "name", "", "display name")
	_ = accountRegisterCmd.MarkFlagRequired("email")
	accountCmd.AddCommand(accountRegisterCmd)

	auditListCmd.Flags().StringVar(&auditKind, "kind", "", "only entries of this kind")
	auditListCmd.Flags().StringVar(&auditAccountID, "account", "", "only entries for this account id")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 50, "maximum number of entries")
	auditListCmd.Flags().BoolVar(&auditVerify, "verify", false, "check entry signatures")
	auditCmd.AddCommand(auditListCmd)

	webhookReplayCmd.Flags().StringVar(&replayFile, "file", "", "path to the raw notification body")
	webhookReplayCmd.Flags().StringVar(&replaySignature, "signature", "", "Stripe-Signature header value")
	webhookReplayCmd.Flags().DurationVar(&replayMaxAge, "max-age", webhook.DefaultReplayMaxAge, "oldest signature timestamp accepted")
	_ = webhookReplayCmd.MarkFlagRequired("file")
	_ = webhookReplayCmd.MarkFlagRequired("signature")
	webhookCmd.AddCommand(webhookReplayCmd)
}
