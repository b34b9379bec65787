// Package autocmd interprets inbound messages as commands for the receiving
// agent. It is a pure rule engine: Interpret maps (agent, messages) to a list
// of Actions and performs no I/O. The watch layer's Dispatcher executes them.
package autocmd

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/dyluth/lodge/pkg/board"
)

// AutoReplyContext tags messages produced automatically. They are never interpreted.
const AutoReplyContext = "auto-reply"

// Kind identifies what a dispatcher must do for an Action.
type Kind string

const (
	KindReply      Kind = "reply"       // Send Body to To
	KindBranchInfo Kind = "branch_info" // Reply with current git branch info
	KindStatus     Kind = "status"      // Reply with this agent's status, locks and contracts
	KindLock       Kind = "lock"        // Lock Path with Reason, then confirm to To
	KindUnlock     Kind = "unlock"      // Unlock Path, then confirm to To
	KindPlanAppend Kind = "plan_append" // Append Text to the plan file, then confirm to To
	KindPropose    Kind = "propose"     // Create Proposal
)

// Action is one outbound effect produced by a rule.
type Action struct {
	Kind     Kind
	Rule     string // Name of the rule that produced it
	To       string // Reply recipient
	Body     string
	Context  string
	Path     string
	Reason   string
	Text     string
	Proposal *Proposal
}

// Proposal is a contract draft produced by an intent rule.
type Proposal struct {
	From        string
	To          string
	Title       string
	Description string
	LoopGuard   bool
}

// command is a message after normalization.
type command struct {
	agent      string
	msg        board.Message
	normalized string   // lowercased, collapsed, prefix-stripped
	words      []string // original-case words of the collapsed text
}

// rule is one (predicate, handler) pair. The first matching rule wins.
type rule struct {
	name  string
	match func(c *command) bool
	build func(c *command) []Action
}

// InterpretOne applies the first matching rule to a single message.
func InterpretOne(agent string, msg board.Message) []Action {
	if msg.From == agent || IsAutomated(msg) {
		return nil
	}
	c := newCommand(agent, msg)
	if c.normalized == "" {
		return nil
	}
	for _, r := range rules {
		if r.match(c) {
			actions := r.build(c)
			for i := range actions {
				actions[i].Rule = r.name
			}
			return actions
		}
	}
	return nil
}

// IsAutomated reports whether msg was generated by lodge itself rather than
// written by an agent: auto replies and protocol notifications.
func IsAutomated(msg board.Message) bool {
	switch {
	case msg.Context == AutoReplyContext:
		return true
	case msg.Context == "locks":
		return true
	case strings.HasPrefix(msg.Context, "contract:"):
		return true
	case msg.From == board.SystemAgent:
		return true
	}
	return false
}

// Normalize lowercases text, collapses whitespace and strips a leading '/' or '!'.
func Normalize(text string) string {
	return strings.ToLower(strings.Join(collapse(text), " "))
}

func collapse(text string) []string {
	fields := strings.Fields(text)
	if len(fields) > 0 {
		fields[0] = strings.TrimLeft(fields[0], "/!")
		if fields[0] == "" {
			fields = fields[1:]
		}
	}
	return fields
}

func newCommand(agent string, msg board.Message) *command {
	words := collapse(msg.Body)
	return &command{
		agent:      agent,
		msg:        msg,
		normalized: strings.ToLower(strings.Join(words, " ")),
		words:      words,
	}
}

func (c *command) reply(body string) Action {
	return Action{Kind: KindReply, To: c.msg.From, Body: body, Context: AutoReplyContext}
}

// rest returns the original-case text after the first n words.
func (c *command) rest(n int) string {
	if len(c.words) <= n {
		return ""
	}
	return strings.Join(c.words[n:], " ")
}

func hasPrefixWord(s, word string) bool {
	return s == word || strings.HasPrefix(s, word+" ")
}

var rules = []rule{
	{
		name:  "branch",
		match: func(c *command) bool { return hasPrefixWord(c.normalized, "branch") },
		build: func(c *command) []Action {
			return []Action{{Kind: KindBranchInfo, To: c.msg.From, Context: AutoReplyContext}}
		},
	},
	{
		name:  "help",
		match: func(c *command) bool { return hasPrefixWord(c.normalized, "help") },
		build: func(c *command) []Action { return []Action{c.reply(HelpText(c.agent))} },
	},
	{
		name:  "status",
		match: func(c *command) bool { return hasPrefixWord(c.normalized, "status") },
		build: func(c *command) []Action {
			return []Action{{Kind: KindStatus, To: c.msg.From, Context: AutoReplyContext}}
		},
	},
	{
		name:  "lock",
		match: func(c *command) bool { return hasPrefixWord(c.normalized, "lock") },
		build: func(c *command) []Action {
			if len(c.words) < 2 {
				return []Action{c.reply("Usage: lock <path> [reason]")}
			}
			reason := c.rest(2)
			if reason == "" {
				reason = "requested by " + c.msg.From
			}
			return []Action{{Kind: KindLock, To: c.msg.From, Path: c.words[1], Reason: reason, Context: AutoReplyContext}}
		},
	},
	{
		name:  "unlock",
		match: func(c *command) bool { return hasPrefixWord(c.normalized, "unlock") },
		build: func(c *command) []Action {
			if len(c.words) < 2 {
				return []Action{c.reply("Usage: unlock <path>")}
			}
			return []Action{{Kind: KindUnlock, To: c.msg.From, Path: c.words[1], Context: AutoReplyContext}}
		},
	},
	{
		name: "plan",
		match: func(c *command) bool {
			return strings.HasPrefix(c.normalized, "plan:") || hasPrefixWord(c.normalized, "plan add")
		},
		build: func(c *command) []Action {
			var text string
			if strings.HasPrefix(c.normalized, "plan:") {
				joined := strings.Join(c.words, " ")
				text = strings.TrimSpace(joined[len("plan:"):])
			} else {
				text = c.rest(2)
			}
			if text == "" {
				return []Action{c.reply("Usage: plan: <text>")}
			}
			return []Action{{Kind: KindPlanAppend, To: c.msg.From, Text: text, Context: AutoReplyContext}}
		},
	},
	intentRule("debug", "Fix",
		[]string{"bug", "fix", "error", "crash", "broken"},
		"Looks like a defect report. I'll reproduce it, find the root cause and add a regression test."),
	intentRule("review", "Review",
		[]string{"review", "pr", "pull request"},
		"Review request noted. I'll read the diff and reply with findings."),
	intentRule("testing", "Tests",
		[]string{"test", "tests", "failing", "coverage"},
		"Testing request noted. I'll run the suite and cover the gaps."),
	intentRule("refactor", "Refactor",
		[]string{"refactor", "cleanup"},
		"Refactor request noted. I'll keep behaviour unchanged and keep the diff small."),
	{
		name:  "fallback",
		match: func(c *command) bool { return true },
		build: func(c *command) []Action { return []Action{c.reply(capabilities(c.agent))} },
	},
}

// intentRule matches free text containing any keyword as a whole word (or
// phrase) and answers with a suggestion plus a contract draft.
func intentRule(name, titlePrefix string, keywords []string, suggestion string) rule {
	return rule{
		name: name,
		match: func(c *command) bool {
			return containsKeyword(c.normalized, keywords)
		},
		build: func(c *command) []Action {
			body := strings.Join(c.words, " ")
			return []Action{
				c.reply(fmt.Sprintf("💡 %s A contract has been drafted for it.", suggestion)),
				{
					Kind: KindPropose,
					To:   c.msg.From,
					Proposal: &Proposal{
						From:        c.msg.From,
						To:          c.agent,
						Title:       fmt.Sprintf("%s: %s", titlePrefix, summarize(body, 60)),
						Description: body,
						LoopGuard:   true,
					},
				},
			}
		},
	}
}

func containsKeyword(normalized string, keywords []string) bool {
	words := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	padded := " " + strings.Join(words, " ") + " "
	for _, k := range keywords {
		if strings.Contains(padded, " "+k+" ") {
			return true
		}
	}
	return false
}

func summarize(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimSpace(string(r[:max-3])) + "..."
}

// HelpText lists the commands an agent's monitor understands.
func HelpText(agent string) string {
	return fmt.Sprintf(`%s understands:
  branch                 current git branch and working tree state
  status                 my status, locks and active contracts
  lock <path> [reason]   lock a path on my behalf
  unlock <path>          release a path I hold
  plan: <text>           append a line to the plan
  help                   this message
Mentions of bugs, reviews, tests or refactors get a contract proposal.`, agent)
}

func capabilities(agent string) string {
	return fmt.Sprintf("🤖 %s received your message. Send 'help' for the commands I can run automatically.", agent)
}
