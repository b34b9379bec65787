// Package contract implements the contract lease protocol: a proposed unit of
// work with an owner, an optional deadline and a heartbeat requirement.
//
// Every transition runs as one gated write that updates the contract table,
// acquires or releases the contract's resource locks and notifies the
// counterpart through the mailbox. Expiry is detected lazily by Sweep, which
// List runs before reporting.
package contract

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dyluth/lodge/internal/filter"
	"github.com/dyluth/lodge/internal/locks"
	"github.com/dyluth/lodge/internal/mailbox"
	"github.com/dyluth/lodge/internal/resolver"
	"github.com/dyluth/lodge/pkg/board"
	"github.com/google/uuid"
)

// DefaultHeartbeatFloor is the minimum grace period before a missed heartbeat expires a contract.
const DefaultHeartbeatFloor = 30 * time.Second

// Options configures a Protocol.
type Options struct {
	HeartbeatFloor    time.Duration
	EnforceSafeguards bool
}

// Protocol drives contract transitions.
type Protocol struct {
	store   *board.Store
	bus     *mailbox.Bus
	locks   *locks.Manager
	floor   time.Duration
	enforce bool
}

// New creates a Protocol.
func New(store *board.Store, bus *mailbox.Bus, lockMgr *locks.Manager, opts Options) *Protocol {
	if opts.HeartbeatFloor <= 0 {
		opts.HeartbeatFloor = DefaultHeartbeatFloor
	}
	return &Protocol{store: store, bus: bus, locks: lockMgr, floor: opts.HeartbeatFloor, enforce: opts.EnforceSafeguards}
}

// EnforcesSafeguards reports whether safeguards are enforced rather than advisory.
func (p *Protocol) EnforcesSafeguards() bool {
	return p.enforce
}

// ProposeRequest describes a new contract.
type ProposeRequest struct {
	From         string
	To           string
	Title        string
	Description  string
	Priority     string
	TTLMinutes   int
	HeartbeatSec int
	Safeguards   board.Safeguards
}

// Propose creates a contract in status proposed and asks the assignee to accept it.
func (p *Protocol) Propose(ctx context.Context, req ProposeRequest) (*board.Contract, error) {
	if strings.TrimSpace(req.From) == "" {
		return nil, board.MissingField("from")
	}
	if strings.TrimSpace(req.To) == "" {
		return nil, board.MissingField("to")
	}
	if strings.TrimSpace(req.Title) == "" {
		return nil, board.MissingField("title")
	}
	if req.TTLMinutes < 0 || req.HeartbeatSec < 0 || req.Safeguards.MaxSteps < 0 {
		return nil, board.Errorf(board.CodeMissingRequiredField, "ttl, heartbeat and max steps must not be negative")
	}
	priority, err := board.ParsePriority(req.Priority)
	if err != nil {
		return nil, err
	}

	var out *board.Contract
	err = p.store.Update(ctx, func(tx *board.Tx) error {
		table, err := tx.Contracts()
		if err != nil {
			return err
		}
		now := tx.Now()
		c := &board.Contract{
			ID:                uuid.NewString(),
			CreatedAt:         now,
			LastUpdated:       now,
			From:              strings.TrimSpace(req.From),
			To:                strings.TrimSpace(req.To),
			Title:             strings.TrimSpace(req.Title),
			Description:       req.Description,
			Priority:          priority,
			Status:            board.ContractProposed,
			HeartbeatInterval: req.HeartbeatSec,
			RelatedLocks:      []string{},
			Safeguards:        req.Safeguards,
			Updates:           []board.Update{},
		}
		if req.TTLMinutes > 0 {
			deadline := now.Add(time.Duration(req.TTLMinutes) * time.Minute)
			c.Deadline = &deadline
		}
		c.AddUpdate(now, c.From, "proposed")
		table.Contracts = append(table.Contracts, c)

		body := fmt.Sprintf("📋 Contract proposed: %s [%s]. Accept with: lodge contract accept %s", c.Title, shortID(c.ID), shortID(c.ID))
		if err := p.notifyTx(tx, c, c.From, c.To, body, c.Priority); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Accept moves a proposed contract to accepted and prompts the assignee to start.
func (p *Protocol) Accept(ctx context.Context, id, from string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionAccept, func(tx *board.Tx, c *board.Contract) error {
		c.Status = board.ContractAccepted
		c.AddUpdate(tx.Now(), from, "accepted")
		body := fmt.Sprintf("✅ Contract accepted: %s [%s]. Start with: lodge contract start %s", c.Title, shortID(c.ID), shortID(c.ID))
		if err := p.notifyTx(tx, c, from, c.To, body, c.Priority); err != nil {
			return err
		}
		return mailbox.TouchTx(tx, from, "")
	})
}

// Start moves a contract to in_progress, acquiring locks best-effort.
// Lock failures are recorded in the update log and do not block the transition.
// The caller, normally the assignee, is marked busy with the contract title.
func (p *Protocol) Start(ctx context.Context, id, from string, paths []string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionStart, func(tx *board.Tx, c *board.Contract) error {
		now := tx.Now()
		for _, raw := range paths {
			path := board.NormalizeResourcePath(raw)
			if path == "" {
				continue
			}
			_, err := p.locks.AcquireTx(tx, locks.Request{
				Path:       path,
				By:         from,
				Reason:     fmt.Sprintf("contract %s: %s", shortID(c.ID), c.Title),
				ContractID: c.ID,
			})
			if err != nil {
				var be *board.Error
				if !errors.As(err, &be) {
					return err
				}
				c.AddUpdate(now, from, fmt.Sprintf("lock %s not acquired: %v", path, err))
			}
			if !containsPath(c.RelatedLocks, path) {
				c.RelatedLocks = append(c.RelatedLocks, path)
			}
		}

		c.Status = board.ContractInProgress
		c.LastHeartbeat = &now
		c.AddUpdate(now, from, "started")

		if _, err := mailbox.SetStatusTx(tx, from, board.AgentBusy, c.Title); err != nil {
			return err
		}
		if from != c.From {
			body := fmt.Sprintf("🚧 Contract started by %s: %s [%s]", from, c.Title, shortID(c.ID))
			return p.notifyTx(tx, c, from, c.From, body, c.Priority)
		}
		return nil
	})
}

// Heartbeat records liveness for an in-progress contract.
// With safeguards enforced, a heartbeat beyond max_steps fails with SafeguardTripped.
func (p *Protocol) Heartbeat(ctx context.Context, id, from, note string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionHeartbeat, func(tx *board.Tx, c *board.Contract) error {
		if p.enforce && c.Safeguards.MaxSteps > 0 && c.Steps >= c.Safeguards.MaxSteps {
			return board.Errorf(board.CodeSafeguardTripped,
				"contract %s reached max_steps (%d)", shortID(c.ID), c.Safeguards.MaxSteps)
		}
		now := tx.Now()
		c.LastHeartbeat = &now
		c.Steps++
		msg := "heartbeat"
		if note != "" {
			msg = "heartbeat: " + note
		}
		c.AddUpdate(now, from, msg)
		return mailbox.TouchTx(tx, from, "")
	})
}

// Complete finishes a contract, releases its locks and notifies the proposer.
func (p *Protocol) Complete(ctx context.Context, id, from, result string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionComplete, func(tx *board.Tx, c *board.Contract) error {
		c.Status = board.ContractCompleted
		c.Result = result
		c.AddUpdate(tx.Now(), from, withDetail("completed", result))
		if err := p.finishTx(tx, c); err != nil {
			return err
		}
		body := fmt.Sprintf("🎉 Contract completed: %s [%s]", c.Title, shortID(c.ID))
		if result != "" {
			body += ": " + result
		}
		return p.notifyTx(tx, c, from, c.From, body, c.Priority)
	})
}

// Fail marks a contract failed, releases its locks and alerts the proposer at high priority.
func (p *Protocol) Fail(ctx context.Context, id, from, reason string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionFail, func(tx *board.Tx, c *board.Contract) error {
		c.Status = board.ContractFailed
		c.Error = reason
		c.AddUpdate(tx.Now(), from, withDetail("failed", reason))
		if err := p.finishTx(tx, c); err != nil {
			return err
		}
		body := fmt.Sprintf("❌ Contract failed: %s [%s]", c.Title, shortID(c.ID))
		if reason != "" {
			body += ": " + reason
		}
		return p.notifyTx(tx, c, from, c.From, body, board.PriorityHigh)
	})
}

// Cancel withdraws a contract, releases its locks and notifies the counterpart.
func (p *Protocol) Cancel(ctx context.Context, id, from, reason string) (*board.Contract, error) {
	return p.transition(ctx, id, from, ActionCancel, func(tx *board.Tx, c *board.Contract) error {
		c.Status = board.ContractCancelled
		c.Error = reason
		c.AddUpdate(tx.Now(), from, withDetail("cancelled", reason))
		if err := p.finishTx(tx, c); err != nil {
			return err
		}
		counterpart := c.From
		if from == c.From {
			counterpart = c.To
		}
		body := fmt.Sprintf("🛑 Contract cancelled by %s: %s [%s]", from, c.Title, shortID(c.ID))
		if reason != "" {
			body += ": " + reason
		}
		return p.notifyTx(tx, c, from, counterpart, body, c.Priority)
	})
}

// List sweeps expired contracts and returns those matching criteria, in creation order.
func (p *Protocol) List(ctx context.Context, criteria filter.Criteria) ([]*board.Contract, error) {
	var out []*board.Contract
	err := p.store.Update(ctx, func(tx *board.Tx) error {
		if _, err := p.sweepTx(tx); err != nil {
			return err
		}
		table, err := tx.Contracts()
		if err != nil {
			return err
		}
		for _, c := range table.Contracts {
			if criteria.MatchesContract(c) {
				out = append(out, c)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Show returns one contract by full id or unique prefix. It does not sweep.
func (p *Protocol) Show(id string) (*board.Contract, error) {
	var out *board.Contract
	err := p.store.View(func(tx *board.Tx) error {
		c, err := p.findTx(tx, id)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Sweep expires every overdue contract and returns the ones it expired.
func (p *Protocol) Sweep(ctx context.Context) ([]*board.Contract, error) {
	var expired []*board.Contract
	err := p.store.Update(ctx, func(tx *board.Tx) error {
		var err error
		expired, err = p.sweepTx(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return expired, nil
}

func (p *Protocol) sweepTx(tx *board.Tx) ([]*board.Contract, error) {
	table, err := tx.Contracts()
	if err != nil {
		return nil, err
	}
	now := tx.Now()
	var expired []*board.Contract
	for _, c := range table.Contracts {
		if c.Status.IsTerminal() {
			continue
		}
		cause := p.expiryCause(c, now)
		if cause == "" {
			continue
		}
		c.Status = board.ContractExpired
		c.Error = cause
		c.AddUpdate(now, board.SystemAgent, "expired: "+cause)
		if err := p.finishTx(tx, c); err != nil {
			return nil, err
		}
		body := fmt.Sprintf("⌛ Contract expired: %s [%s]: %s", c.Title, shortID(c.ID), cause)
		for _, to := range uniqueAgents(c.From, c.To) {
			if err := p.notifyTx(tx, c, board.SystemAgent, to, body, board.PriorityHigh); err != nil {
				return nil, err
			}
		}
		expired = append(expired, c)
	}
	return expired, nil
}

// expiryCause returns why c is overdue at now, or "" if it is not.
func (p *Protocol) expiryCause(c *board.Contract, now time.Time) string {
	if c.Deadline != nil && now.After(*c.Deadline) {
		return "deadline passed"
	}
	if c.HeartbeatInterval > 0 && c.LastHeartbeat != nil {
		grace := 2 * time.Duration(c.HeartbeatInterval) * time.Second
		if grace < p.floor {
			grace = p.floor
		}
		if now.After(c.LastHeartbeat.Add(grace)) {
			return fmt.Sprintf("no heartbeat for %s", now.Sub(*c.LastHeartbeat).Truncate(time.Second))
		}
	}
	return ""
}

// transition resolves id, checks the state machine and applies fn in one gated write.
func (p *Protocol) transition(ctx context.Context, id, from string, act Action, fn func(tx *board.Tx, c *board.Contract) error) (*board.Contract, error) {
	if strings.TrimSpace(from) == "" {
		return nil, board.MissingField("from")
	}
	var out *board.Contract
	err := p.store.Update(ctx, func(tx *board.Tx) error {
		c, err := p.findTx(tx, id)
		if err != nil {
			return err
		}
		if err := ensureTransition(c, act); err != nil {
			return err
		}
		if err := fn(tx, c); err != nil {
			return err
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// finishTx releases a terminal contract's locks and frees its assignee.
func (p *Protocol) finishTx(tx *board.Tx, c *board.Contract) error {
	released, err := p.locks.ReleaseForContractTx(tx, c.ID, c.RelatedLocks)
	if err != nil {
		return err
	}
	if len(released) > 0 {
		c.AddUpdate(tx.Now(), board.SystemAgent, "released locks: "+strings.Join(released, ", "))
	}
	table, err := tx.Agents()
	if err != nil {
		return err
	}
	if st, ok := table.Agents[c.To]; ok && st.Status == board.AgentBusy && st.CurrentTask == c.Title {
		st.Status = board.AgentAvailable
		st.CurrentTask = ""
		st.LastSeen = tx.Now()
	} else if c.Status == board.ContractCompleted {
		if _, err := mailbox.SetStatusTx(tx, c.To, board.AgentAvailable, ""); err != nil {
			return err
		}
	}
	return nil
}

func (p *Protocol) findTx(tx *board.Tx, id string) (*board.Contract, error) {
	if strings.TrimSpace(id) == "" {
		return nil, board.MissingField("id")
	}
	table, err := tx.Contracts()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(table.Contracts))
	for _, c := range table.Contracts {
		ids = append(ids, c.ID)
	}
	full, err := resolver.ResolveID(id, ids, "contract")
	if err != nil {
		return nil, board.WrapError(board.CodeContractNotFound, err.Error(), err)
	}
	return table.Find(full), nil
}

func (p *Protocol) notifyTx(tx *board.Tx, c *board.Contract, from, to, body string, priority board.Priority) error {
	if to == "" {
		return nil
	}
	_, err := p.bus.SendTx(tx, mailbox.SendRequest{
		To:       to,
		From:     from,
		Body:     body,
		Priority: string(priority),
		Context:  c.Context(),
	})
	return err
}

func withDetail(event, detail string) string {
	if detail == "" {
		return event
	}
	return event + ": " + detail
}

func containsPath(paths []string, p string) bool {
	for _, existing := range paths {
		if existing == p {
			return true
		}
	}
	return false
}

func uniqueAgents(names ...string) []string {
	var out []string
	for _, n := range names {
		if n != "" && !containsPath(out, n) {
			out = append(out, n)
		}
	}
	return out
}
