package cli

import (
	stdcontext "context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"
	"time"

	units "github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/AreTaj/Migraine-Navigator/internal/api"
)

const statusTimeout = 5 * time.Second

var statusHTTPClient = &http.Client{Timeout: statusTimeout}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newStatusCmd(ctx *context) *cobra.Command {
	var (
		apiAddr string
		asJSON  bool
		history int
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running shell via its control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := apiAddr
			if addr == "" {
				doc, err := ctx.loadConfig()
				if err != nil {
					return err
				}
				addr = doc.API.Addr
			}

			body, err := fetchStatus(cmd.Context(), addr)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				_, err := out.Write(body)
				return err
			}

			var report api.StatusReport
			if err := json.Unmarshal(body, &report); err != nil {
				return fmt.Errorf("decode status: %w", err)
			}
			writeStatus(out, &report, history, time.Now())
			return nil
		},
	}
	cmd.Flags().StringVar(&apiAddr, "api", "", "Control API address (default from config)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON report")
	cmd.Flags().IntVar(&history, "history", 0, "Show the last N lifecycle transitions")
	return cmd
}

func fetchStatus(ctx stdcontext.Context, addr string) ([]byte, error) {
	if ctx == nil {
		ctx = stdcontext.Background()
	}
	url := addr
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		url = "http://" + url
	}
	url = strings.TrimRight(url, "/") + "/api/v1/status"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := statusHTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("query control api at %s: %w (is the shell running with --api?)", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read status: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("control api: %s (%s)", apiErr.Message, apiErr.Code)
		}
		return nil, errors.New("control api: " + resp.Status)
	}
	return body, nil
}

func writeStatus(out io.Writer, report *api.StatusReport, history int, now time.Time) {
	sc := report.Sidecar
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SIDECAR\tMODE\tSTATE\tPID\tREADY\tSPAWNS\tRESTARTS\tUPTIME")
	pid := "-"
	if sc.Pid > 0 {
		pid = fmt.Sprintf("%d", sc.Pid)
	}
	ready := "No"
	if sc.Ready {
		ready = "Yes"
	}
	uptime := "-"
	if sc.State == "running" && !sc.StartedAt.IsZero() {
		uptime = units.HumanDuration(now.Sub(sc.StartedAt))
	}
	fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%s\n",
		sc.Name, report.Mode, formatStatusState(sc.State), pid, ready, sc.Spawns, sc.Restarts, uptime)
	w.Flush()

	if sc.ExitCode != nil {
		fmt.Fprintf(out, "\nLast exit code: %d", *sc.ExitCode)
		if !sc.ExitedAt.IsZero() {
			fmt.Fprintf(out, " (%s ago)", units.HumanDuration(now.Sub(sc.ExitedAt)))
		}
		fmt.Fprintln(out)
	}
	if sc.LastError != "" {
		fmt.Fprintf(out, "Last error: %s\n", sc.LastError)
	}
	fmt.Fprintf(out, "Output: stdout=%d stderr=%d dropped=%d\n",
		sc.OutputLines["stdout"], sc.OutputLines["stderr"], sc.Dropped)

	if history <= 0 || len(sc.History) == 0 {
		return
	}
	entries := sc.History
	if len(entries) > history {
		entries = entries[len(entries)-history:]
	}
	fmt.Fprintln(out, "\nHistory:")
	for _, entry := range entries {
		reason := entry.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(out, "  %s  %-10s  %-18s  %s\n",
			entry.Timestamp.Format(time.RFC3339),
			formatStatusState(entry.Type),
			reason,
			entry.Message)
	}
}

func formatStatusState(s string) string {
	if s == "" {
		return "-"
	}
	if len(s) <= 1 {
		return strings.ToUpper(s)
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
