package contract

import (
	"github.com/dyluth/lodge/pkg/board"
)

// Action names a contract transition.
type Action string

const (
	ActionAccept    Action = "accept"
	ActionStart     Action = "start"
	ActionHeartbeat Action = "heartbeat"
	ActionComplete  Action = "complete"
	ActionFail      Action = "fail"
	ActionCancel    Action = "cancel"
)

// allowedFrom lists the statuses each action may be applied to.
// fail and cancel accept any non-terminal status and are handled in ensureTransition.
var allowedFrom = map[Action][]board.ContractStatus{
	ActionAccept:    {board.ContractProposed},
	ActionStart:     {board.ContractProposed, board.ContractAccepted},
	ActionHeartbeat: {board.ContractInProgress},
	ActionComplete:  {board.ContractInProgress, board.ContractAccepted},
}

// ensureTransition returns InvalidStateTransition when act is not permitted
// from the contract's current status.
func ensureTransition(c *board.Contract, act Action) error {
	switch act {
	case ActionFail, ActionCancel:
		if !c.Status.IsTerminal() {
			return nil
		}
	default:
		for _, s := range allowedFrom[act] {
			if c.Status == s {
				return nil
			}
		}
	}
	return board.Errorf(board.CodeInvalidStateTransition,
		"cannot %s contract %s: status is %s", act, shortID(c.ID), c.Status)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
