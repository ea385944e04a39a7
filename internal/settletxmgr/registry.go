// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package settletxmgr

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// CreateLogicalTx allocates the next nonce of the namespace and persists a new entry with no attempts.
// It runs in the caller's DB transaction, so the entry commits together with whatever batch
// records the caller links to it.
func (m *Manager) CreateLogicalTx(ctx context.Context, dbTX persistence.DBTX, req *settleapi.NewLogicalTx) (*settleapi.LogicalTx, error) {
	if err := req.Validate(ctx); err != nil {
		return nil, err
	}
	ns := &req.Namespace
	ctx = log.WithLogField(ctx, "namespace", ns.String())

	if err := m.p.TakeNamedLock(ctx, dbTX, ns.String()); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgAllocationFailed, ns)
	}
	nonce, err := m.NextNonce(ctx, dbTX, ns)
	if err != nil {
		return nil, err
	}

	tx := &settleapi.LogicalTx{
		Created:          time.Now(),
		Kind:             req.Kind,
		Payload:          req.Payload,
		Nonce:            nonce,
		SigningAccount:   ns.SigningAccount,
		Route:            ns.Route,
		PredictedGasCost: req.PredictedGasCost,
	}
	dbTx := ledgerstore.MapLogicalTxToDB(tx)
	if err := m.store.InsertLogicalTx(ctx, dbTX, dbTx); err != nil {
		log.L(ctx).Errorf("Failed to persist %s transaction at nonce %d: %s", req.Kind, nonce, err)
		return nil, i18n.WrapError(ctx, err, msgs.MsgAllocationFailed, ns)
	}
	tx.ID = dbTx.ID

	if dbTX.FullTransaction() {
		dbTX.AddPostCommit(func(ctx context.Context) { m.metrics.IncCreatedTransactions(string(req.Kind)) })
	} else {
		m.metrics.IncCreatedTransactions(string(req.Kind))
	}
	log.L(ctx).Debugf("Created %s transaction %d with nonce %d", tx.Kind, tx.ID, tx.Nonce)
	return tx, nil
}

// RecordAttempt stores a signed attempt for a logical transaction. Recording the same signed
// bytes again returns the existing attempt, moving its observed block if a newer one is supplied.
// The same bytes with different fee parameters, or against another logical transaction, is a
// DuplicateAttempt.
func (m *Manager) RecordAttempt(ctx context.Context, req *settleapi.NewAttempt) (attempt *settleapi.Attempt, err error) {
	if err := req.Validate(ctx); err != nil {
		return nil, err
	}
	fingerprint := settleapi.Fingerprint(req.SignedPayload)
	ctx = log.WithLogField(ctx, "fingerprint", fingerprint.String())

	inserted := false
	err = m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		tx, err := m.store.GetLogicalTx(ctx, dbTX, req.LogicalTxID)
		if err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
		}
		if tx == nil {
			return i18n.NewError(ctx, msgs.MsgLogicalTxNotFound, req.LogicalTxID)
		}

		existing, err := m.store.GetAttemptByFingerprint(ctx, dbTX, fingerprint.String())
		if err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
		}
		if existing != nil {
			attempt, err = m.matchRecordedAttempt(ctx, dbTX, existing, req)
			return err
		}

		attempt = &settleapi.Attempt{
			LogicalTxID:     req.LogicalTxID,
			Created:         time.Now(),
			Fees:            req.Fees,
			SignedPayload:   req.SignedPayload,
			Fingerprint:     fingerprint,
			ObservedAtBlock: req.ObservedAtBlock,
			FinalityStatus:  settleapi.FinalityPending,
		}
		dbAttempt := ledgerstore.MapAttemptToDB(attempt)
		if inserted, err = m.store.InsertAttempt(ctx, dbTX, dbAttempt); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		if !inserted {
			// recorded concurrently since the read above
			if existing, err = m.store.GetAttemptByFingerprint(ctx, dbTX, fingerprint.String()); err != nil {
				return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
			}
			if existing == nil {
				return i18n.NewError(ctx, msgs.MsgLedgerWriteFailed)
			}
			attempt, err = m.matchRecordedAttempt(ctx, dbTX, existing, req)
			return err
		}
		attempt.ID = dbAttempt.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	if inserted {
		m.metrics.IncRecordedAttempts()
		log.L(ctx).Debugf("Recorded attempt %d for transaction %d", attempt.ID, attempt.LogicalTxID)
	}
	return attempt, nil
}

// matchRecordedAttempt accepts a repeat of an attempt already in the ledger, moving only its observed block.
// The same fingerprint with another owner or other fees is a DuplicateAttempt.
func (m *Manager) matchRecordedAttempt(ctx context.Context, dbTX persistence.DBTX, existing *ledgerstore.SettlementTxAttempt, req *settleapi.NewAttempt) (*settleapi.Attempt, error) {
	attempt := ledgerstore.MapDBToAttempt(existing)
	if attempt.LogicalTxID != req.LogicalTxID || !attempt.Fees.Equal(&req.Fees) {
		log.L(ctx).Errorf("Attempt already recorded against transaction %d with fees %+v (requested %d with %+v)",
			attempt.LogicalTxID, attempt.Fees, req.LogicalTxID, req.Fees)
		return nil, i18n.NewError(ctx, msgs.MsgDuplicateAttempt, attempt.Fingerprint, attempt.LogicalTxID)
	}
	if req.ObservedAtBlock != nil && (attempt.ObservedAtBlock == nil || *attempt.ObservedAtBlock != *req.ObservedAtBlock) {
		if _, err := m.store.SetObservedAtBlock(ctx, dbTX, attempt.ID, *req.ObservedAtBlock); err != nil {
			return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		attempt.ObservedAtBlock = req.ObservedAtBlock
	}
	return attempt, nil
}

// MarkBroadcastOK records that the network accepted the attempt into its pool.
// This says nothing about inclusion in a block.
func (m *Manager) MarkBroadcastOK(ctx context.Context, attemptID int64) error {
	n, err := m.store.SetBroadcastOK(ctx, m.p.NOTX(), attemptID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
	}
	if n == 0 {
		return i18n.NewError(ctx, msgs.MsgAttemptNotFound, attemptID)
	}
	log.L(ctx).Debugf("Attempt %d broadcast", attemptID)
	return nil
}

// MarkFailed flags the logical transaction as terminally failed. History is kept.
func (m *Manager) MarkFailed(ctx context.Context, logicalTxID int64) error {
	n, err := m.store.SetFailed(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
	}
	if n == 0 {
		return i18n.NewError(ctx, msgs.MsgLogicalTxNotFound, logicalTxID)
	}
	m.metrics.IncFailedTransactions()
	log.L(ctx).Warnf("Transaction %d marked as failed", logicalTxID)
	return nil
}

// SetSettlementChainID records the chain the transaction landed on. It can be set once.
func (m *Manager) SetSettlementChainID(ctx context.Context, logicalTxID int64, chainID uint64) error {
	return m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		return m.setSettlementChainID(ctx, dbTX, logicalTxID, chainID)
	})
}

func (m *Manager) setSettlementChainID(ctx context.Context, dbTX persistence.DBTX, logicalTxID int64, chainID uint64) error {
	tx, err := m.store.GetLogicalTx(ctx, dbTX, logicalTxID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if tx == nil {
		return i18n.NewError(ctx, msgs.MsgLogicalTxNotFound, logicalTxID)
	}
	if tx.SettlementChainID != nil {
		if *tx.SettlementChainID != chainID {
			return i18n.NewError(ctx, msgs.MsgSettlementChainConflict, logicalTxID, *tx.SettlementChainID, chainID)
		}
		return nil
	}
	if _, err := m.store.SetSettlementChainID(ctx, dbTX, logicalTxID, chainID); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
	}
	return nil
}

// GetLogicalTx returns nil if there is no such transaction
func (m *Manager) GetLogicalTx(ctx context.Context, logicalTxID int64) (*settleapi.LogicalTx, error) {
	tx, err := m.store.GetLogicalTx(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToLogicalTx(tx), nil
}

// GetAttempt returns nil if there is no such attempt
func (m *Manager) GetAttempt(ctx context.Context, attemptID int64) (*settleapi.Attempt, error) {
	attempt, err := m.store.GetAttempt(ctx, m.p.NOTX(), attemptID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToAttempt(attempt), nil
}

// ListAttempts returns every attempt of the transaction, newest first
func (m *Manager) ListAttempts(ctx context.Context, logicalTxID int64) ([]*settleapi.Attempt, error) {
	attempts, err := m.store.ListAttempts(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToAttempts(attempts), nil
}

// LastBroadcastAttempt is the newest attempt the network accepted, nil if none was
func (m *Manager) LastBroadcastAttempt(ctx context.Context, logicalTxID int64) (*settleapi.Attempt, error) {
	attempt, err := m.store.LastBroadcastAttempt(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToAttempt(attempt), nil
}

// ConfirmedFingerprint is the fingerprint of the canonical attempt, nil while unconfirmed
func (m *Manager) ConfirmedFingerprint(ctx context.Context, logicalTxID int64) (*string, error) {
	fp, err := m.store.ConfirmedFingerprint(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return fp, nil
}

// ObservedBlockRange spans the blocks any attempt of the transaction was seen in, nil if none was
func (m *Manager) ObservedBlockRange(ctx context.Context, logicalTxID int64) (*settleapi.BlockRange, error) {
	br, err := m.store.ObservedBlockRange(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if br.FirstBlock == nil || br.LastBlock == nil {
		return nil, nil
	}
	return &settleapi.BlockRange{First: *br.FirstBlock, Last: *br.LastBlock}, nil
}

// ListUnfinalizedAttempts feeds the finality poller: broadcast attempts still pending, oldest
// first, optionally only those of transactions that landed on chainID
func (m *Manager) ListUnfinalizedAttempts(ctx context.Context, limit int, chainID *uint64) ([]*settleapi.Attempt, error) {
	if limit <= 0 {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidLimit)
	}
	attempts, err := m.store.ListPendingAttempts(ctx, m.p.NOTX(), chainID, limit)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToAttempts(attempts), nil
}

// ListUnsent returns the queue of transactions still to broadcast: everything above the highest
// nonce with an attempt the network accepted, in nonce order
func (m *Manager) ListUnsent(ctx context.Context, ns *settleapi.Namespace, limit int) ([]*settleapi.LogicalTx, error) {
	if err := ns.Validate(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, i18n.NewError(ctx, msgs.MsgInvalidLimit)
	}
	sent, err := m.store.MaxBroadcastNonce(ctx, m.p.NOTX(), ns)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	txs, err := m.store.ListAfterNonce(ctx, m.p.NOTX(), ns, sent, limit)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return ledgerstore.MapDBToLogicalTxs(txs), nil
}
