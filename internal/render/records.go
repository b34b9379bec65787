package render

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/archive"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/jedib0t/go-pretty/v6/table"
)

// Messages writes a one-row-per-message table of mailbox contents.
func Messages(w io.Writer, format OutputFormat, msgs []board.Message, now time.Time) error {
	if format.IsMachine() {
		return writeRecords(w, format, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages")
		return nil
	}
	tw := newTable(w, table.Row{"SEQ", "FROM", "TO", "PRIORITY", "CONTEXT", "AGE", "BODY"})
	for _, m := range msgs {
		tw.AppendRow(table.Row{m.Seq, m.From, m.To, m.Priority, orDash(m.Context), formatAge(m.Timestamp, now), formatBody(m.Body)})
	}
	tw.Render()
	footer(w, len(msgs), "message")
	return nil
}

// FullMessages writes each message with its complete body, for reading.
func FullMessages(w io.Writer, format OutputFormat, msgs []board.Message, now time.Time) error {
	if format.IsMachine() {
		return writeRecords(w, format, msgs)
	}
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No new messages")
		return nil
	}
	for i, m := range msgs {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "#%d from %s (%s, %s)", m.Seq, m.From, m.Priority, formatAge(m.Timestamp, now))
		if m.Context != "" {
			fmt.Fprintf(w, " [%s]", m.Context)
		}
		fmt.Fprintln(w)
		for _, line := range strings.Split(strings.TrimRight(m.Body, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
	return nil
}

// MailStats writes per-recipient counts alongside the agent-status table.
func MailStats(w io.Writer, format OutputFormat, stats []mailbox.RecipientStats, agents []board.AgentStatus, now time.Time) error {
	if format.IsMachine() {
		return JSON(w, struct {
			Mailbox []mailbox.RecipientStats `json:"mailbox"`
			Agents  []board.AgentStatus      `json:"agents"`
		}{nonNil(stats), nonNil(agents)})
	}

	byAgent := map[string]*board.AgentStatus{}
	names := map[string]bool{}
	for i := range agents {
		byAgent[agents[i].Agent] = &agents[i]
		names[agents[i].Agent] = true
	}
	counts := map[string]mailbox.RecipientStats{}
	for _, s := range stats {
		counts[s.Agent] = s
		names[s.Agent] = true
	}
	if len(names) == 0 {
		fmt.Fprintln(w, "No agents or messages yet")
		return nil
	}
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)

	tw := newTable(w, table.Row{"AGENT", "STATUS", "TASK", "LAST SEEN", "UNREAD", "TOTAL"})
	for _, n := range sorted {
		status, task, seen := "-", "-", "-"
		if a := byAgent[n]; a != nil {
			status, task, seen = string(a.Status), orDash(a.CurrentTask), formatAge(a.LastSeen, now)
		}
		c := counts[n]
		tw.AppendRow(table.Row{n, status, task, seen, c.Unread, c.Total})
	}
	tw.Render()
	return nil
}

// Locks writes lock status rows.
func Locks(w io.Writer, format OutputFormat, rows []locks.Status) error {
	if format.IsMachine() {
		type lockJSON struct {
			board.ResourceLock
			AgeSeconds int64 `json:"age_seconds"`
			Stale      bool  `json:"stale"`
		}
		out := make([]lockJSON, 0, len(rows))
		for _, r := range rows {
			out = append(out, lockJSON{r.ResourceLock, int64(r.Age / time.Second), r.Stale})
		}
		return writeRecords(w, format, out)
	}
	if len(rows) == 0 {
		fmt.Fprintln(w, "No locks held")
		return nil
	}
	tw := newTable(w, table.Row{"PATH", "LOCKED BY", "AGE", "STALE", "CONTRACT", "REASON"})
	for _, r := range rows {
		stale := ""
		if r.Stale {
			stale = "yes"
		}
		tw.AppendRow(table.Row{r.Path, r.LockedBy, formatDuration(r.Age), stale, orDash(formatID(r.ContractID)), formatBody(r.Reason)})
	}
	tw.Render()
	footer(w, len(rows), "lock")
	return nil
}

// Contracts writes a contract list.
func Contracts(w io.Writer, format OutputFormat, contracts []*board.Contract, now time.Time) error {
	if format.IsMachine() {
		return writeRecords(w, format, contracts)
	}
	if len(contracts) == 0 {
		fmt.Fprintln(w, "No contracts found")
		return nil
	}
	tw := newTable(w, table.Row{"ID", "STATUS", "FROM", "TO", "PRIORITY", "UPDATED", "TITLE"})
	for _, c := range contracts {
		tw.AppendRow(table.Row{formatID(c.ID), c.Status, c.From, c.To, c.Priority, formatAge(c.LastUpdated, now), formatBody(c.Title)})
	}
	tw.Render()
	footer(w, len(contracts), "contract")
	return nil
}

// Contract writes one contract in full, including its update log.
func Contract(w io.Writer, format OutputFormat, c *board.Contract, now time.Time) error {
	if format.IsMachine() {
		return JSON(w, c)
	}
	fmt.Fprintf(w, "Contract %s\n\n", c.ID)
	fmt.Fprintf(w, "  Title:       %s\n", c.Title)
	fmt.Fprintf(w, "  Status:      %s\n", c.Status)
	fmt.Fprintf(w, "  From → To:   %s → %s\n", c.From, c.To)
	fmt.Fprintf(w, "  Priority:    %s\n", c.Priority)
	fmt.Fprintf(w, "  Created:     %s (%s)\n", c.CreatedAt.Format(time.RFC3339), formatAge(c.CreatedAt, now))
	if c.Deadline != nil {
		fmt.Fprintf(w, "  Deadline:    %s (%s)\n", c.Deadline.Format(time.RFC3339), formatAge(*c.Deadline, now))
	}
	if c.HeartbeatInterval > 0 {
		last := "never"
		if c.LastHeartbeat != nil {
			last = formatAge(*c.LastHeartbeat, now)
		}
		fmt.Fprintf(w, "  Heartbeat:   every %ds, last %s\n", c.HeartbeatInterval, last)
	}
	if c.Safeguards.MaxSteps > 0 {
		fmt.Fprintf(w, "  Steps:       %d/%d\n", c.Steps, c.Safeguards.MaxSteps)
	}
	if c.Safeguards.AutoAccept || c.Safeguards.LoopGuard {
		fmt.Fprintf(w, "  Safeguards:  auto_accept=%t loop_guard=%t\n", c.Safeguards.AutoAccept, c.Safeguards.LoopGuard)
	}
	if len(c.RelatedLocks) > 0 {
		fmt.Fprintf(w, "  Locks:       %s\n", strings.Join(c.RelatedLocks, ", "))
	}
	if c.Description != "" {
		fmt.Fprintf(w, "\n%s\n", c.Description)
	}
	if c.Result != "" {
		fmt.Fprintf(w, "\nResult: %s\n", c.Result)
	}
	if c.Error != "" {
		fmt.Fprintf(w, "\nError: %s\n", c.Error)
	}
	if len(c.Updates) > 0 {
		fmt.Fprintf(w, "\nUpdates:\n")
		for _, u := range c.Updates {
			fmt.Fprintf(w, "  %s  %-10s %s\n", u.Timestamp.Format("2006-01-02 15:04:05"), u.From, u.Message)
		}
	}
	return nil
}

// History writes archived messages.
func History(w io.Writer, format OutputFormat, entries []archive.Entry, now time.Time) error {
	if format.IsMachine() {
		type entryJSON struct {
			board.Message
			Reason     string    `json:"reason"`
			ArchivedAt time.Time `json:"archived_at"`
		}
		out := make([]entryJSON, 0, len(entries))
		for _, e := range entries {
			out = append(out, entryJSON{e.Message, e.Reason, e.ArchivedAt})
		}
		return writeRecords(w, format, out)
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "No archived messages")
		return nil
	}
	tw := newTable(w, table.Row{"SEQ", "FROM", "TO", "AGE", "REASON", "BODY"})
	for _, e := range entries {
		tw.AppendRow(table.Row{e.Seq, e.From, e.To, formatAge(e.Timestamp, now), e.Reason, formatBody(e.Body)})
	}
	tw.Render()
	footer(w, len(entries), "archived message")
	return nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
