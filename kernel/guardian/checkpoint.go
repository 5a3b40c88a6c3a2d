// Copyright 2026 The Substrate Authors
// SPDX-License-Identifier: Apache-2.0

package guardian

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/substrate-foundation/substrate/kernel/ledger"
	"github.com/substrate-foundation/substrate/lib/codec"
	"github.com/substrate-foundation/substrate/lib/schema"
)

type checkpointPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	Description  string `json:"description,omitempty"`
}

type rollbackPayload struct {
	CheckpointID string `json:"checkpoint_id"`
	Sequence     uint64 `json:"sequence"`
}

// CreateCheckpoint designates the current ledger position as a named
// "last known good" point. The checkpoint's sequence is that of its
// own ledger entry, so replaying through the checkpoint includes the
// record of its creation.
func (g *Guardian) CreateCheckpoint(ctx context.Context, operator, description string) (checkpoint schema.Checkpoint, err error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return schema.Checkpoint{}, fmt.Errorf("guardian: checkpoint: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return schema.Checkpoint{}, fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	checkpoint = schema.Checkpoint{
		ID:          uuid.NewString(),
		CreatedBy:   operator,
		CreatedAt:   g.clock.Now(),
		Description: description,
	}

	payload, err := codec.Marshal(checkpointPayload{
		CheckpointID: checkpoint.ID,
		Description:  description,
	})
	if err != nil {
		return schema.Checkpoint{}, fmt.Errorf("guardian: encoding checkpoint: %w", err)
	}
	entry, err := g.ledger.AppendTx(conn, ledger.Record{
		Actor:   operator,
		Kind:    schema.KindCheckpoint,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	})
	if err != nil {
		return schema.Checkpoint{}, err
	}
	checkpoint.Sequence = entry.Sequence

	err = sqlitex.Execute(conn, `INSERT INTO checkpoints
		(id, sequence, created_by, created_at_ns, description)
		VALUES (?, ?, ?, ?, ?)`, &sqlitex.ExecOptions{
		Args: []any{
			checkpoint.ID,
			int64(checkpoint.Sequence),
			operator,
			checkpoint.CreatedAt.UnixNano(),
			description,
		},
	})
	if err != nil {
		return schema.Checkpoint{}, fmt.Errorf("guardian: recording checkpoint: %w", err)
	}

	g.logger.Info("checkpoint created",
		"checkpoint", checkpoint.ID,
		"sequence", checkpoint.Sequence,
		"operator", operator,
	)
	return checkpoint, nil
}

// Rollback marks a checkpoint as the authoritative ledger position.
// History is untouched: downstream reconstruction replays the ledger
// up to the active checkpoint instead of the head. Rollbacks are
// serialized under the same lock as mode transitions.
func (g *Guardian) Rollback(ctx context.Context, operator, checkpointID string) (err error) {
	g.stateMu.Lock()
	defer g.stateMu.Unlock()

	conn, err := g.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("guardian: rollback: %w", err)
	}
	defer g.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("guardian: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	checkpoint, err := checkpointConn(conn, checkpointID)
	if err != nil {
		return err
	}

	payload, err := codec.Marshal(rollbackPayload{
		CheckpointID: checkpoint.ID,
		Sequence:     checkpoint.Sequence,
	})
	if err != nil {
		return fmt.Errorf("guardian: encoding rollback: %w", err)
	}
	if _, err = g.ledger.AppendTx(conn, ledger.Record{
		Actor:   operator,
		Kind:    schema.KindRollback,
		Payload: payload,
		Outcome: schema.OutcomeCommitted,
	}); err != nil {
		return err
	}

	err = sqlitex.Execute(conn, `INSERT INTO guardian_state (id, active_checkpoint)
		VALUES (1, ?) ON CONFLICT (id) DO UPDATE SET active_checkpoint = excluded.active_checkpoint`,
		&sqlitex.ExecOptions{Args: []any{checkpointID}})
	if err != nil {
		return fmt.Errorf("guardian: setting active checkpoint: %w", err)
	}

	g.logger.Warn("rolled back to checkpoint",
		"checkpoint", checkpoint.ID,
		"sequence", checkpoint.Sequence,
		"operator", operator,
	)
	return nil
}

// ActiveCheckpoint returns the checkpoint a rollback marked
// authoritative, or nil when the head is authoritative.
func (g *Guardian) ActiveCheckpoint(ctx context.Context) (*schema.Checkpoint, error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardian: active checkpoint: %w", err)
	}
	defer g.pool.Put(conn)

	var checkpointID string
	err = sqlitex.Execute(conn, `SELECT active_checkpoint FROM guardian_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				checkpointID = stmt.ColumnText(0)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("guardian: reading active checkpoint: %w", err)
	}
	if checkpointID == "" {
		return nil, nil
	}

	checkpoint, err := checkpointConn(conn, checkpointID)
	if err != nil {
		return nil, err
	}
	return &checkpoint, nil
}

// Checkpoints returns all checkpoints, newest first.
func (g *Guardian) Checkpoints(ctx context.Context) ([]schema.Checkpoint, error) {
	conn, err := g.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("guardian: checkpoints: %w", err)
	}
	defer g.pool.Put(conn)

	var checkpoints []schema.Checkpoint
	err = sqlitex.Execute(conn, `SELECT id, sequence, created_by, created_at_ns, description
		FROM checkpoints ORDER BY sequence DESC`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			checkpoints = append(checkpoints, scanCheckpoint(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("guardian: scanning checkpoints: %w", err)
	}
	return checkpoints, nil
}

func checkpointConn(conn *sqlite.Conn, checkpointID string) (schema.Checkpoint, error) {
	var checkpoint schema.Checkpoint
	found := false
	err := sqlitex.Execute(conn, `SELECT id, sequence, created_by, created_at_ns, description
		FROM checkpoints WHERE id = ?`, &sqlitex.ExecOptions{
		Args: []any{checkpointID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			checkpoint = scanCheckpoint(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return schema.Checkpoint{}, fmt.Errorf("guardian: reading checkpoint %s: %w", checkpointID, err)
	}
	if !found {
		return schema.Checkpoint{}, fmt.Errorf("guardian: no checkpoint %q", checkpointID)
	}
	return checkpoint, nil
}

func scanCheckpoint(stmt *sqlite.Stmt) schema.Checkpoint {
	return schema.Checkpoint{
		ID:          stmt.ColumnText(0),
		Sequence:    uint64(stmt.ColumnInt64(1)),
		CreatedBy:   stmt.ColumnText(2),
		CreatedAt:   time.Unix(0, stmt.ColumnInt64(3)),
		Description: stmt.ColumnText(4),
	}
}
