// Package notify posts a plain-text summary of finished runs to an ntfy
// style endpoint.
package notify

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dgnsrekt/pagerun/internal/runner"
)

// Notifier posts run summaries to Endpoint. A zero Endpoint disables it.
type Notifier struct {
	Endpoint string
	Client   *http.Client
}

// RunFinished sends the summary of report.
func (n *Notifier) RunFinished(ctx context.Context, report *runner.Report) error {
	if n == nil || n.Endpoint == "" || report == nil {
		return nil
	}
	return Send(ctx, n.Client, n.Endpoint, Summary(report))
}

// Summary renders report as a short message: one header line and a line
// per failed page.
func Summary(report *runner.Report) string {
	var completed, failed, skipped int
	var lines []string
	for _, r := range report.Results {
		switch r.State {
		case runner.Completed:
			completed++
		case runner.Failed:
			failed++
			lines = append(lines, fmt.Sprintf("- %s: step %d %s %s", r.Page, r.FailedStep, r.FailedAction, orUnknown(r.FaultCode)))
		default:
			skipped++
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "pagerun %s run %s: %d completed, %d failed, %d not run", setName(report.Set), report.RunID, completed, failed, skipped)
	if report.Aborted {
		b.WriteString(" (browser gone)")
	}
	for _, l := range lines {
		b.WriteString("\n")
		b.WriteString(l)
	}
	return b.String()
}

// Send sends a message to the requested endpoint using HTTP POST.
func Send(ctx context.Context, client *http.Client, endpoint, message string) error {
	if endpoint == "" {
		return errors.New("notify: no endpoint")
	}
	c := client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(message))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "text/plain")

	resp, err := c.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("ntfy notification failed: status=%d", resp.StatusCode)
	}
	return nil
}

func setName(s string) string {
	if s == "" {
		return "unnamed set"
	}
	return s
}

func orUnknown(code string) string {
	if code == "" {
		return "ERROR"
	}
	return code
}
