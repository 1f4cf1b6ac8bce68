package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"frontdesk/internal/config"
	"frontdesk/internal/domain"
)

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v any) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

func statusColor(status string) *color.Color {
	switch domain.Status(status) {
	case domain.StatusPending:
		return color.New(color.FgYellow)
	case domain.StatusResolved:
		return color.New(color.FgHiGreen)
	case domain.StatusUnresolved:
		return color.New(color.FgRed)
	default:
		return color.New(color.Reset)
	}
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printRequests(items []domain.HelpRequest) error {
	if isJSON() {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Customer", "Status", "Question", "Answer", "Supervisor reply", "Created", "Due"})
	for _, r := range items {
		tw.AppendRow(table.Row{
			r.ID,
			r.CustomerID,
			statusColor(string(r.Status)).Sprint(r.Status),
			r.Question,
			deref(r.ResolvedAnswer),
			deref(r.SupervisorReply),
			r.CreatedAt.Local().Format(time.DateTime),
			r.DueAt.Local().Format(time.DateTime),
		})
	}
	tw.AppendFooter(table.Row{"", "", fmt.Sprintf("%d", len(items))})
	tw.Render()
	return nil
}

func printResolved(items []domain.ResolvedAnswer) error {
	if isJSON() {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Question", "Answer", "Supervisor reply"})
	for _, a := range items {
		tw.AppendRow(table.Row{a.Question, a.ResolvedAnswer, a.SupervisorReply})
	}
	tw.Render()
	return nil
}

func printKnowledge(items []domain.KnowledgeEntry) error {
	if isJSON() {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"Key", "Question", "Answer", "Hits", "Updated"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.Key, e.Question, e.Answer, e.Hits, e.UpdatedAt.Local().Format(time.DateTime)})
	}
	tw.Render()
	return nil
}

func printEvents(items []domain.Event) error {
	if isJSON() {
		return printJSON(items)
	}
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Time", "Type", "Entity", "Payload"})
	for _, e := range items {
		tw.AppendRow(table.Row{e.ID, e.TS, color.New(color.FgCyan).Sprint(e.Type), e.EntityKind + "/" + e.EntityID, e.Payload})
	}
	tw.Render()
	return nil
}

// redacted returns a copy of cfg with secrets masked for display.
func redacted(cfg *config.Config) *config.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.Voice.APISecret = mask(out.Voice.APISecret)
	out.Knowledge.Redis.Password = mask(out.Knowledge.Redis.Password)
	out.Notifications.Webhooks = make([]config.WebhookConfig, len(cfg.Notifications.Webhooks))
	for i, h := range cfg.Notifications.Webhooks {
		h.Secret = mask(h.Secret)
		out.Notifications.Webhooks[i] = h
	}
	return &out
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
