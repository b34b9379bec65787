// Package board provides the shared state store used by every lodge agent
// process: the typed documents (mailbox, agent-status table, contract table,
// per-path lock records), their on-disk layout, and the single gate that
// serializes every read-modify-write against them.
//
// # Overview
//
// Agents are independent OS processes that share nothing but a directory.
// The board is that directory, modelled as a small document store:
//
//	<root>/.lodge/mailbox.json          messages between agents
//	<root>/.lodge/agents.json           agent liveness table
//	<root>/.lodge/contracts.json        contract (lease) table
//	<root>/.lodge/locks/<record>.json   one record per locked resource path
//	<root>/.lodge/gate.lock             gate marker file
//
// # The Gate
//
// Every mutation runs inside Store.Update, which holds the gate for the
// whole read-modify-write. The gate is an OS-level exclusive lock on the
// marker file, so a crashed holder's lock is released by the kernel when its
// handle closes; there is no application-level lease on the gate itself.
// Acquisition retries on a fixed interval and gives up with LockTimeout.
//
// # Documents
//
// Writes are whole-document atomic replacements (temp file + rename), so a
// reader that does not hold the gate sees either the old or the new
// document, never a torn one. A document that cannot be decoded or fails
// validation is treated as its empty default and reported as a
// SerializationError to the store's corruption hook; the store heals on the
// next write.
//
// # Usage Example
//
//	store, err := board.Open(root, board.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = store.Update(ctx, func(tx *board.Tx) error {
//		mb, err := tx.Mailbox()
//		if err != nil {
//			return err
//		}
//		mb.Messages = append(mb.Messages, msg)
//		return nil
//	})
package board
