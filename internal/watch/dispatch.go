package watch

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/autocmd"
	"github.com/dyluth/lodge/internal/contract"
	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/git"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/pkg/board"
)

// Dispatcher executes interpreter actions on behalf of Agent.
// Locks, Contracts and Git are optional; actions needing a missing
// collaborator are answered with an explanatory reply.
type Dispatcher struct {
	Agent     string
	Bus       *mailbox.Bus
	Locks     *locks.Manager
	Contracts *contract.Protocol
	Git       *git.Checker
	PlanPath  string // Absolute path of the plan file
}

// Execute runs actions in order. Each failure is logged and answered where
// possible; one failed action never stops the rest.
func (d *Dispatcher) Execute(ctx context.Context, actions []autocmd.Action) {
	for _, a := range actions {
		if err := d.execute(ctx, a); err != nil {
			log.Printf("[WARN] Auto command %s (%s) failed: %v", a.Kind, a.Rule, err)
		}
	}
}

func (d *Dispatcher) execute(ctx context.Context, a autocmd.Action) error {
	switch a.Kind {
	case autocmd.KindReply:
		return d.reply(ctx, a, a.Body)

	case autocmd.KindBranchInfo:
		if d.Git == nil {
			return d.reply(ctx, a, "Git information is not available here.")
		}
		info, err := d.Git.BranchInfo()
		if err != nil {
			_ = d.reply(ctx, a, "Could not read git branch info: "+err.Error())
			return err
		}
		return d.reply(ctx, a, info)

	case autocmd.KindStatus:
		body, err := d.statusReport(ctx)
		if err != nil {
			_ = d.reply(ctx, a, "Could not build status: "+err.Error())
			return err
		}
		return d.reply(ctx, a, body)

	case autocmd.KindLock:
		if d.Locks == nil {
			return d.reply(ctx, a, "Locking is not available here.")
		}
		rec, err := d.Locks.Lock(ctx, locks.Request{Path: a.Path, By: d.Agent, Reason: a.Reason})
		if err != nil {
			_ = d.reply(ctx, a, fmt.Sprintf("🔒 Could not lock %s: %v", a.Path, err))
			return err
		}
		return d.reply(ctx, a, fmt.Sprintf("🔒 Locked %s for %s", rec.Path, d.Agent))

	case autocmd.KindUnlock:
		if d.Locks == nil {
			return d.reply(ctx, a, "Locking is not available here.")
		}
		released, err := d.Locks.Unlock(ctx, a.Path, d.Agent, false)
		if err != nil {
			_ = d.reply(ctx, a, fmt.Sprintf("🔓 Could not unlock %s: %v", a.Path, err))
			return err
		}
		if !released {
			return d.reply(ctx, a, fmt.Sprintf("🔓 %s was not locked", a.Path))
		}
		return d.reply(ctx, a, fmt.Sprintf("🔓 Unlocked %s", a.Path))

	case autocmd.KindPlanAppend:
		if err := d.appendPlan(a.To, a.Text); err != nil {
			_ = d.reply(ctx, a, "Could not update the plan: "+err.Error())
			return err
		}
		return d.reply(ctx, a, fmt.Sprintf("📝 Added to %s: %s", filepath.Base(d.PlanPath), a.Text))

	case autocmd.KindPropose:
		if d.Contracts == nil || a.Proposal == nil {
			return nil
		}
		p := a.Proposal
		c, err := d.Contracts.Propose(ctx, contract.ProposeRequest{
			From:        p.From,
			To:          p.To,
			Title:       p.Title,
			Description: p.Description,
			Safeguards:  board.Safeguards{LoopGuard: p.LoopGuard},
		})
		if err != nil {
			return err
		}
		log.Printf("[INFO] Drafted contract %s for %s: %s", c.ID, p.To, c.Title)
		return nil
	}
	return fmt.Errorf("unknown action kind %q", a.Kind)
}

func (d *Dispatcher) reply(ctx context.Context, a autocmd.Action, body string) error {
	if a.To == "" || strings.TrimSpace(body) == "" {
		return nil
	}
	msgContext := a.Context
	if msgContext == "" {
		msgContext = autocmd.AutoReplyContext
	}
	_, err := d.Bus.Send(ctx, mailbox.SendRequest{
		To:       a.To,
		From:     d.Agent,
		Body:     body,
		Priority: string(board.PriorityNormal),
		Context:  msgContext,
	})
	return err
}

// statusReport summarises this agent's status row, held locks and active contracts.
func (d *Dispatcher) statusReport(ctx context.Context) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Status of %s\n", d.Agent)

	agents, err := d.Bus.Agents()
	if err != nil {
		return "", err
	}
	state := "unknown"
	for _, st := range agents {
		if st.Agent == d.Agent {
			state = string(st.Status)
			if st.CurrentTask != "" {
				state += " (" + st.CurrentTask + ")"
			}
		}
	}
	fmt.Fprintf(&b, "State: %s\n", state)

	if d.Locks != nil {
		rows, err := d.Locks.Status("")
		if err != nil {
			return "", err
		}
		var held []string
		for _, r := range rows {
			if r.LockedBy == d.Agent {
				held = append(held, r.Path)
			}
		}
		if len(held) == 0 {
			b.WriteString("Locks: none\n")
		} else {
			fmt.Fprintf(&b, "Locks: %s\n", strings.Join(held, ", "))
		}
	}

	if d.Contracts != nil {
		active, err := d.Contracts.List(ctx, filter.Criteria{Agent: d.Agent, ActiveOnly: true})
		if err != nil {
			return "", err
		}
		if len(active) == 0 {
			b.WriteString("Contracts: none active\n")
		} else {
			b.WriteString("Contracts:\n")
			for _, c := range active {
				fmt.Fprintf(&b, "  - [%s] %s (%s)\n", c.ID[:min(8, len(c.ID))], c.Title, c.Status)
			}
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// appendPlan adds an unchecked item to the plan file, creating it with a heading.
func (d *Dispatcher) appendPlan(from, text string) error {
	if d.PlanPath == "" {
		return fmt.Errorf("no plan file configured")
	}
	_, statErr := os.Stat(d.PlanPath)
	f, err := os.OpenFile(d.PlanPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open plan file: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	if os.IsNotExist(statErr) {
		b.WriteString("# Plan\n\n")
	}
	now := time.Now().UTC()
	if d.Bus != nil {
		now = d.Bus.Store().Now()
	}
	fmt.Fprintf(&b, "- [ ] %s (from %s, %s)\n", text, from, now.Format("2006-01-02"))
	if _, err := f.WriteString(b.String()); err != nil {
		return fmt.Errorf("failed to write plan file: %w", err)
	}
	return nil
}

// Guarded reports whether msg belongs to a contract whose loop guard is
// enforced, in which case nothing automatic may answer it.
func (d *Dispatcher) Guarded(msg board.Message) bool {
	c := d.contractOf(msg)
	return c != nil && d.Contracts.EnforcesSafeguards() && c.Safeguards.LoopGuard
}

// AutoAccept accepts a proposal addressed to this agent when the contract
// asks for it and safeguards are enforced. It reports whether it accepted.
func (d *Dispatcher) AutoAccept(ctx context.Context, msg board.Message) (bool, error) {
	c := d.contractOf(msg)
	if c == nil || !d.Contracts.EnforcesSafeguards() || !c.Safeguards.AutoAccept {
		return false, nil
	}
	if c.To != d.Agent || c.Status != board.ContractProposed {
		return false, nil
	}
	if _, err := d.Contracts.Accept(ctx, c.ID, d.Agent); err != nil {
		return false, err
	}
	log.Printf("[INFO] Auto-accepted contract %s: %s", c.ID, c.Title)
	return true, nil
}

func (d *Dispatcher) contractOf(msg board.Message) *board.Contract {
	if d == nil || d.Contracts == nil || !strings.HasPrefix(msg.Context, "contract:") {
		return nil
	}
	c, err := d.Contracts.Show(strings.TrimPrefix(msg.Context, "contract:"))
	if err != nil {
		return nil
	}
	return c
}
