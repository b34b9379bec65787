package board

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DocumentVersion is the schema version written into every document.
const DocumentVersion = 1

// SystemAgent is the author recorded on updates the protocol makes by itself (expiry).
const SystemAgent = "system"

// Message is a single entry in the shared mailbox.
// Messages are delivered in Seq order; ID is a time-ordered UUIDv7.
type Message struct {
	ID        string    `json:"id"`        // UUIDv7
	Seq       int64     `json:"seq"`       // Per-mailbox monotonic sequence, starts at 1
	Timestamp time.Time `json:"timestamp"` // Creation time
	From      string    `json:"from"`
	To        string    `json:"to"`
	Body      string    `json:"body"`
	Priority  Priority  `json:"priority"`
	Context   string    `json:"context,omitempty"` // Free-form routing tag, e.g. "contract:<id>"
	Read      bool      `json:"read"`
}

// Priority is opaque routing metadata carried by messages and contracts.
// It never reorders delivery.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// AgentState is the liveness state recorded in the agent-status table.
type AgentState string

const (
	AgentAvailable AgentState = "available"
	AgentBusy      AgentState = "busy"
	AgentOffline   AgentState = "offline"
)

// AgentStatus is one row of the agent-status table.
type AgentStatus struct {
	Agent       string     `json:"agent"`
	Status      AgentState `json:"status"`
	LastSeen    time.Time  `json:"last_seen"`
	CurrentTask string     `json:"current_task,omitempty"`
}

// ResourceLock is an advisory lock on a normalized resource path.
// Staleness is never stored; it is derived from CreatedAt and TTLSeconds at read time.
type ResourceLock struct {
	Path       string    `json:"path"`
	LockedBy   string    `json:"locked_by"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	TTLSeconds int64     `json:"ttl_seconds,omitempty"`
	ContractID string    `json:"contract_id,omitempty"` // Set when acquired by a contract start
}

// TTL returns the record's TTL, or fallback when the record carries none.
func (l *ResourceLock) TTL(fallback time.Duration) time.Duration {
	if l.TTLSeconds <= 0 {
		return fallback
	}
	return time.Duration(l.TTLSeconds) * time.Second
}

// Age returns how long the lock has been held at now.
func (l *ResourceLock) Age(now time.Time) time.Duration {
	return now.Sub(l.CreatedAt)
}

// IsStale reports whether the lock's age has reached its TTL.
func (l *ResourceLock) IsStale(now time.Time, fallback time.Duration) bool {
	return l.Age(now) >= l.TTL(fallback)
}

// ContractStatus is the lifecycle state of a contract.
// Contracts progress: proposed → accepted → in_progress → completed/failed/cancelled/expired.
type ContractStatus string

const (
	// ContractProposed indicates the contract awaits the assignee
	ContractProposed ContractStatus = "proposed"

	// ContractAccepted indicates the assignee agreed but has not started
	ContractAccepted ContractStatus = "accepted"

	// ContractInProgress indicates work has started; heartbeats are expected
	ContractInProgress ContractStatus = "in_progress"

	ContractCompleted ContractStatus = "completed"
	ContractFailed    ContractStatus = "failed"
	ContractCancelled ContractStatus = "cancelled"

	// ContractExpired is set only by sweep, on deadline or missed heartbeats
	ContractExpired ContractStatus = "expired"
)

// IsTerminal reports whether no further transition is possible from s.
func (s ContractStatus) IsTerminal() bool {
	switch s {
	case ContractCompleted, ContractFailed, ContractCancelled, ContractExpired:
		return true
	}
	return false
}

// Safeguards are limits carried on a contract. They are enforced only when
// the project enables enforcement; otherwise they are advisory.
type Safeguards struct {
	MaxSteps   int  `json:"max_steps"`
	AutoAccept bool `json:"auto_accept"`
	LoopGuard  bool `json:"loop_guard"`
}

// Update is one entry of a contract's ordered update log.
type Update struct {
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	Message   string    `json:"message"`
}

// Contract is a lease on a unit of work between a proposer and an assignee.
type Contract struct {
	ID                string         `json:"id"` // UUIDv4
	CreatedAt         time.Time      `json:"created_at"`
	LastUpdated       time.Time      `json:"last_updated"`
	From              string         `json:"from"` // Proposer
	To                string         `json:"to"`   // Assignee
	Title             string         `json:"title"`
	Description       string         `json:"description,omitempty"`
	Priority          Priority       `json:"priority"`
	Status            ContractStatus `json:"status"`
	Deadline          *time.Time     `json:"deadline"`
	HeartbeatInterval int            `json:"heartbeat_interval"` // Seconds; 0 disables heartbeat expiry
	LastHeartbeat     *time.Time     `json:"last_heartbeat"`
	Steps             int            `json:"steps"` // Heartbeats recorded, counted against max_steps
	RelatedLocks      []string       `json:"related_locks"`
	Safeguards        Safeguards     `json:"safeguards"`
	Updates           []Update       `json:"updates"`
	Result            string         `json:"result,omitempty"`
	Error             string         `json:"error,omitempty"`
}

// AddUpdate appends an entry to the update log and bumps LastUpdated.
func (c *Contract) AddUpdate(now time.Time, from, message string) {
	c.Updates = append(c.Updates, Update{Timestamp: now, From: from, Message: message})
	c.LastUpdated = now
}

// Context returns the message context tag used for this contract's notifications.
func (c *Contract) Context() string {
	return ContractContext(c.ID)
}

// ContractContext returns the message context tag for a contract id.
func ContractContext(id string) string {
	return "contract:" + id
}

// Mailbox is the persisted message list.
type Mailbox struct {
	Version  int       `json:"version"`
	NextSeq  int64     `json:"next_seq"`
	Messages []Message `json:"messages"`
}

// StatusTable is the persisted agent-status table keyed by agent name.
type StatusTable struct {
	Version int                     `json:"version"`
	Agents  map[string]*AgentStatus `json:"agents"`
}

// ContractTable is the persisted contract list, in creation order.
type ContractTable struct {
	Version   int         `json:"version"`
	Contracts []*Contract `json:"contracts"`
}

// Find returns the contract with the given id, or nil.
func (t *ContractTable) Find(id string) *Contract {
	for _, c := range t.Contracts {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// NewMailbox returns an empty mailbox document.
func NewMailbox() *Mailbox {
	return &Mailbox{Version: DocumentVersion, NextSeq: 1, Messages: []Message{}}
}

// NewStatusTable returns an empty agent-status document.
func NewStatusTable() *StatusTable {
	return &StatusTable{Version: DocumentVersion, Agents: map[string]*AgentStatus{}}
}

// NewContractTable returns an empty contract document.
func NewContractTable() *ContractTable {
	return &ContractTable{Version: DocumentVersion, Contracts: []*Contract{}}
}

// Validate checks if the Priority is a valid enum value.
func (p Priority) Validate() error {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh:
		return nil
	default:
		return fmt.Errorf("invalid priority: %q", p)
	}
}

// ParsePriority maps user input to a Priority. Empty input means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	p := Priority(s)
	if err := p.Validate(); err != nil {
		return "", Errorf(CodeMissingRequiredField, "priority must be one of low, normal, high (got %q)", s)
	}
	return p, nil
}

// Validate checks if the AgentState is a valid enum value.
func (s AgentState) Validate() error {
	switch s {
	case AgentAvailable, AgentBusy, AgentOffline:
		return nil
	default:
		return fmt.Errorf("invalid agent status: %q", s)
	}
}

// Validate checks if the ContractStatus is a valid enum value.
func (s ContractStatus) Validate() error {
	switch s {
	case ContractProposed, ContractAccepted, ContractInProgress,
		ContractCompleted, ContractFailed, ContractCancelled, ContractExpired:
		return nil
	default:
		return fmt.Errorf("invalid contract status: %q", s)
	}
}

// Validate checks if the Message has valid field values.
func (m *Message) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("message ID cannot be empty")
	}
	if m.Seq < 1 {
		return fmt.Errorf("invalid seq: must be >= 1, got %d", m.Seq)
	}
	if m.To == "" {
		return fmt.Errorf("message recipient cannot be empty")
	}
	if err := m.Priority.Validate(); err != nil {
		return err
	}
	return nil
}

// Validate checks if the Mailbox is well formed.
func (mb *Mailbox) Validate() error {
	if mb.Version != DocumentVersion {
		return fmt.Errorf("unsupported mailbox version %d", mb.Version)
	}
	for i := range mb.Messages {
		if err := mb.Messages[i].Validate(); err != nil {
			return fmt.Errorf("message at index %d: %w", i, err)
		}
		if mb.Messages[i].Seq >= mb.NextSeq {
			return fmt.Errorf("message at index %d has seq %d beyond next_seq %d", i, mb.Messages[i].Seq, mb.NextSeq)
		}
	}
	return nil
}

// Validate checks if the StatusTable is well formed.
func (t *StatusTable) Validate() error {
	if t.Version != DocumentVersion {
		return fmt.Errorf("unsupported agents version %d", t.Version)
	}
	for name, s := range t.Agents {
		if s == nil {
			return fmt.Errorf("agent %q has no status", name)
		}
		if err := s.Status.Validate(); err != nil {
			return fmt.Errorf("agent %q: %w", name, err)
		}
	}
	return nil
}

// Validate checks if the Contract has valid field values.
func (c *Contract) Validate() error {
	if !isValidUUID(c.ID) {
		return fmt.Errorf("invalid contract ID: not a valid UUID")
	}
	if c.From == "" || c.To == "" {
		return fmt.Errorf("contract %s: from and to cannot be empty", c.ID)
	}
	if err := c.Status.Validate(); err != nil {
		return fmt.Errorf("contract %s: %w", c.ID, err)
	}
	if err := c.Priority.Validate(); err != nil {
		return fmt.Errorf("contract %s: %w", c.ID, err)
	}
	if c.HeartbeatInterval < 0 {
		return fmt.Errorf("contract %s: negative heartbeat interval", c.ID)
	}
	return nil
}

// Validate checks if the ContractTable is well formed.
func (t *ContractTable) Validate() error {
	if t.Version != DocumentVersion {
		return fmt.Errorf("unsupported contracts version %d", t.Version)
	}
	for i, c := range t.Contracts {
		if c == nil {
			return fmt.Errorf("nil contract at index %d", i)
		}
		if err := c.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the ResourceLock has valid field values.
func (l *ResourceLock) Validate() error {
	if l.Path == "" {
		return fmt.Errorf("lock path cannot be empty")
	}
	if l.LockedBy == "" {
		return fmt.Errorf("lock holder cannot be empty")
	}
	if l.CreatedAt.IsZero() {
		return fmt.Errorf("lock created_at cannot be empty")
	}
	return nil
}

func isValidUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
