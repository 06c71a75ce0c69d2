package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"alertrelay/internal/notifier"
	"alertrelay/internal/policy"
	"alertrelay/pkg/msgfmt"
)

type sendOptions struct {
	severity    string
	site        string
	title       string
	text        string
	fields      []string
	payload     string
	webhookOnly bool
}

func newSendCmd(a *app) *cobra.Command {
	o := &sendOptions{}
	cmd := &cobra.Command{
		Use:   "send TAG",
		Short: "Send one alert through the configured channels",
		Long: `Send builds a notification block and hands it to the notifier, exactly
as a producer would: routing policy applies and failed deliveries are
queued. With --webhook-only the alert is posted straight to every
configured webhook endpoint, bypassing routing and the queue.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runSend(cmd, strings.TrimSpace(args[0]), o)
		},
	}
	f := cmd.Flags()
	f.StringVar(&o.severity, "severity", "INFO", "alert severity (DEBUG..CRITICAL)")
	f.StringVar(&o.site, "site", "", "site the alert belongs to (default: last tag segment)")
	f.StringVar(&o.title, "title", "NOTIFICATION TEST", "block title")
	f.StringVar(&o.text, "text", "alertrelay test message", "message line")
	f.StringArrayVar(&o.fields, "field", nil, "extra Label=Value field (repeatable)")
	f.StringVar(&o.payload, "payload", "", "payload JSON object, or @path to read it from a file")
	f.BoolVar(&o.webhookOnly, "webhook-only", false, "post to webhook endpoints only, bypassing routing and the queue")
	return cmd
}

func (a *app) runSend(cmd *cobra.Command, tag string, o *sendOptions) error {
	if tag == "" {
		return fmt.Errorf("tag must not be empty")
	}
	payload, err := readPayload(o.payload)
	if err != nil {
		return err
	}

	sev := policy.ParseSeverity(o.severity)
	fields := []msgfmt.Field{
		msgfmt.F("Tag", tag),
		msgfmt.F("Severity", sev.String()),
	}
	if o.site != "" {
		fields = append(fields, msgfmt.F("Site", o.site))
	}
	for _, pair := range o.fields {
		label, value, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("--field %q: want Label=Value", pair)
		}
		fields = append(fields, msgfmt.F(strings.TrimSpace(label), value))
	}
	fields = append(fields, msgfmt.F("Message", o.text))

	alert := notifier.Alert{
		Tag:      tag,
		Severity: sev,
		Site:     o.site,
		Message:  msgfmt.FormatBlock(o.title, strings.ToUpper(o.site), fields),
		Payload:  payload,
	}

	st := buildStack(a.settings, a.log, "")
	defer st.close()
	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	if o.webhookOnly {
		eps := st.policy.Load(ctx).Endpoints()
		if len(eps) == 0 {
			fmt.Fprintln(out, "No webhook endpoints configured.")
			return nil
		}
		body := notifier.Body(alert)
		failed := 0
		for _, ep := range eps {
			if err := st.notifier.Webhooks().Post(ctx, ep.URL, ep.Headers, body); err != nil {
				failed++
				fmt.Fprintf(out, "[FAIL] %s: %v\n", ep.Name, err)
				continue
			}
			fmt.Fprintf(out, "[OK] %s\n", ep.Name)
		}
		if failed > 0 {
			return exitError{code: 1, reason: fmt.Sprintf("%d webhook(s) failed", failed)}
		}
		return nil
	}

	res := st.notifier.Notify(ctx, alert)
	fmt.Fprintf(out, "Webhooks delivered: %d; broadcast: %s\n", res.Webhooks, res.Broadcast.Info)
	return nil
}

// readPayload parses a JSON object given inline or as @path.
func readPayload(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	data := []byte(raw)
	if path, ok := strings.CutPrefix(raw, "@"); ok {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read payload: %w", err)
		}
		data = b
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("payload must be a JSON object: %w", err)
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
