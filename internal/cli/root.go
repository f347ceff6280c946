// Package cli implements tradectl, the operator command line for the
// trading core's control API.
package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"daytrading-core/internal/api"
)

// RootConfig holds the persistent flags shared by every command.
type RootConfig struct {
	APIURL  string
	Token   string
	Timeout time.Duration
}

func (rc *RootConfig) client() *Client {
	return NewClient(rc.APIURL, rc.Token, rc.Timeout)
}

func NewRootCmd() *cobra.Command {
	rc := &RootConfig{}

	cmd := &cobra.Command{
		Use:           "tradectl",
		Short:         "Operate the trading core: strategies, panic, positions and P&L",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&rc.APIURL, "api", envOr("TRADECTL_API", "http://localhost:8080"), "Control API base URL")
	cmd.PersistentFlags().StringVar(&rc.Token, "token", os.Getenv("TRADECTL_TOKEN"), "Bearer token for the control API")
	cmd.PersistentFlags().DurationVar(&rc.Timeout, "timeout", 30*time.Second, "Request timeout")

	cmd.AddCommand(
		newStrategiesCmd(rc),
		newStartCmd(rc),
		newStopCmd(rc),
		newConfigCmd(rc),
		newPanicCmd(rc),
		newRiskCmd(rc),
		newGetCmd(rc, "account", "Show broker account balances", "/api/account", false),
		newGetCmd(rc, "positions", "List local positions", "/api/positions", false),
		newGetCmd(rc, "orders", "List recent orders", "/api/orders", true),
		newGetCmd(rc, "fills", "List recent fills", "/api/fills", true),
		newPnLCmd(rc),
		newDecisionsCmd(rc),
		newTokenCmd(),
	)
	return cmd
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newStrategiesCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies [id]",
		Short: "List strategies, or show one with its current run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "/api/strategies"
			if len(args) == 1 {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				path += "/" + strconv.FormatInt(id, 10)
			}
			return call(cmd, rc, http.MethodGet, path, nil, nil)
		},
	}
}

func newStartCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "start <strategy-id>",
		Short: "Start a strategy run, superseding any running one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, rc, http.MethodPost, fmt.Sprintf("/api/strategies/%d/start", id), nil, nil)
		},
	}
}

func newStopCmd(rc *RootConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <strategy-id>",
		Short: "Stop every running run of a strategy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return call(cmd, rc, http.MethodPost, fmt.Sprintf("/api/strategies/%d/stop", id), nil, nil)
		},
	}
}

func newConfigCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read or replace a strategy's configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <strategy-id>",
		Short: "Print the stored configuration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			raw, err := rc.client().Do(cmd.Context(), http.MethodGet, fmt.Sprintf("/api/strategies/%d", id), nil, nil)
			if err != nil {
				return err
			}
			var view struct {
				Config json.RawMessage `json:"config"`
			}
			if err := json.Unmarshal(raw, &view); err != nil {
				return fmt.Errorf("decode strategy: %w", err)
			}
			return printJSON(cmd.OutOrStdout(), view.Config)
		},
	})

	var enable, disable bool
	set := &cobra.Command{
		Use:   "set <strategy-id> <json>",
		Short: "Replace the configuration; takes effect on the next bar",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if !json.Valid([]byte(args[1])) {
				return fmt.Errorf("config is not valid JSON")
			}
			body := map[string]any{"config": json.RawMessage(args[1])}
			switch {
			case enable && disable:
				return fmt.Errorf("--enable and --disable are exclusive")
			case enable:
				body["is_enabled"] = true
			case disable:
				body["is_enabled"] = false
			}
			return call(cmd, rc, http.MethodPut, fmt.Sprintf("/api/strategies/%d/config", id), nil, body)
		},
	}
	set.Flags().BoolVar(&enable, "enable", false, "Also mark the strategy enabled")
	set.Flags().BoolVar(&disable, "disable", false, "Also mark the strategy disabled")
	cmd.AddCommand(set)
	return cmd
}

func newPanicCmd(rc *RootConfig) *cobra.Command {
	var runID int64
	cmd := &cobra.Command{
		Use:   "panic",
		Short: "Cancel all orders, close all positions and stop runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{}
			if cmd.Flags().Changed("run") {
				body["run_id"] = runID
			}
			return call(cmd, rc, http.MethodPost, "/api/panic", nil, body)
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "Stop only this run (all running runs when omitted)")
	return cmd
}

func newRiskCmd(rc *RootConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Read or replace the risk limits of a mode",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "get <paper|live>",
		Short: "Print the limits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, rc, http.MethodGet, "/api/risk-limits/"+url.PathEscape(args[0]), nil, nil)
		},
	})

	var lossCap, maxQty float64
	var perMin int
	set := &cobra.Command{
		Use:   "set <paper|live>",
		Short: "Replace the limits; zero disables a check",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body := map[string]any{
				"daily_max_loss":     lossCap,
				"max_position_qty":   maxQty,
				"max_orders_per_min": perMin,
			}
			return call(cmd, rc, http.MethodPut, "/api/risk-limits/"+url.PathEscape(args[0]), nil, body)
		},
	}
	set.Flags().Float64Var(&lossCap, "daily-max-loss", 0, "Deny orders once today's realized loss reaches this")
	set.Flags().Float64Var(&maxQty, "max-position-qty", 0, "Largest absolute position per symbol")
	set.Flags().IntVar(&perMin, "max-orders-per-min", 0, "Order rate cap per minute")
	cmd.AddCommand(set)
	return cmd
}

func newGetCmd(rc *RootConfig, use, short, path string, limited bool) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var q url.Values
			if limited && limit > 0 {
				q = url.Values{"limit": {strconv.Itoa(limit)}}
			}
			return call(cmd, rc, http.MethodGet, path, q, nil)
		},
	}
	if limited {
		cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows (server default when 0)")
	}
	return cmd
}

func newPnLCmd(rc *RootConfig) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "pnl",
		Short: "Show today's realized P&L, or a daily series with --days",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if days > 0 {
				return call(cmd, rc, http.MethodGet, "/api/analytics/daily-pnl", url.Values{"days": {strconv.Itoa(days)}}, nil)
			}
			return call(cmd, rc, http.MethodGet, "/api/pnl/today", nil, nil)
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Number of trading days in the series")
	return cmd
}

func newDecisionsCmd(rc *RootConfig) *cobra.Command {
	var runID int64
	var limit int
	cmd := &cobra.Command{
		Use:   "decisions",
		Short: "Show the decision log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			if cmd.Flags().Changed("run") {
				q.Set("run_id", strconv.FormatInt(runID, 10))
			}
			if limit > 0 {
				q.Set("limit", strconv.Itoa(limit))
			}
			return call(cmd, rc, http.MethodGet, "/api/decisions", q, nil)
		},
	}
	cmd.Flags().Int64Var(&runID, "run", 0, "Only entries for this run")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries")
	return cmd
}

func newTokenCmd() *cobra.Command {
	var secret, operator string
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a control API token signed with JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, expires, err := api.GenerateToken(operator, secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", expires.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HMAC secret shared with the server")
	cmd.Flags().StringVar(&operator, "operator", envOr("USER", "operator"), "Operator name recorded in the token")
	cmd.Flags().DurationVar(&ttl, "ttl", 12*time.Hour, "Token lifetime")
	return cmd
}

func call(cmd *cobra.Command, rc *RootConfig, method, path string, q url.Values, body any) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	raw, err := rc.client().Do(ctx, method, path, q, body)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), raw)
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		_, err = w.Write(raw)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(w)
	return err
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid strategy id %q", s)
	}
	return id, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
