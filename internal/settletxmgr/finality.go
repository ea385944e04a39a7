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
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// OnBlockIncluded records that an attempt was seen in a block. Seen-in-block is tracked
// separately from finality, and does not change the finality status.
// Observations for fingerprints not in the ledger are logged and skipped.
func (m *Manager) OnBlockIncluded(ctx context.Context, obs *settleapi.BlockIncluded) error {
	fingerprint := obs.Fingerprint.String()
	attempt, err := m.store.GetAttemptByFingerprint(ctx, m.p.NOTX(), fingerprint)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if attempt == nil {
		m.unknownObservation(ctx, settleapi.ObservationBlockIncluded, fingerprint)
		return nil
	}
	if _, err := m.store.SetObservedAtBlock(ctx, m.p.NOTX(), attempt.ID, obs.BlockNumber); err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
	}
	log.L(ctx).Debugf("Attempt %s of transaction %d included in block %d", fingerprint, attempt.SettlementTxID, obs.BlockNumber)
	return nil
}

// OnFinalized moves an attempt from Pending to Finalized. The first attempt of a logical
// transaction to finalize becomes its canonical attempt, in the same DB transaction.
// The block and confirmation time are taken from the observation, so after a reorg the
// exact prior state only comes back when the feed reports them again.
func (m *Manager) OnFinalized(ctx context.Context, obs *settleapi.Finalized) error {
	fingerprint := obs.Fingerprint.String()
	ctx = log.WithLogField(ctx, "fingerprint", fingerprint)
	confirmedAt := time.Now()
	if obs.ConfirmedAt != nil {
		confirmedAt = *obs.ConfirmedAt
	}

	return m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		attempt, err := m.store.GetAttemptByFingerprint(ctx, dbTX, fingerprint)
		if err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
		}
		if attempt == nil {
			dbTX.AddPostCommit(func(ctx context.Context) {
				m.unknownObservation(ctx, settleapi.ObservationFinalized, fingerprint)
			})
			return nil
		}

		// a repeated report keeps the confirmation details of the first
		if settleapi.FinalityStatus(attempt.FinalityStatus) != settleapi.FinalityFinalized {
			if _, err := m.store.FinalizeAttempt(ctx, dbTX, attempt.ID, confirmedAt.UnixNano(), obs.GasUsed, obs.BlockNumber); err != nil {
				return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
			}
		}
		linked, err := m.store.SetConfirmedAttempt(ctx, dbTX, attempt.SettlementTxID, attempt.ID)
		if err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		if obs.ChainID != nil {
			if err := m.setSettlementChainID(ctx, dbTX, attempt.SettlementTxID, *obs.ChainID); err != nil {
				return err
			}
		}
		if err := m.checkCanonicalAttempt(ctx, dbTX, attempt.SettlementTxID); err != nil {
			return err
		}

		if linked > 0 {
			dbTX.AddPostCommit(func(ctx context.Context) {
				m.metrics.IncFinalizedTransactions()
				log.L(ctx).Debugf("Transaction %d confirmed by attempt %d", attempt.SettlementTxID, attempt.ID)
			})
		} else {
			dbTX.AddPostCommit(func(ctx context.Context) {
				log.L(ctx).Debugf("Attempt %d finalized, transaction %d already has a canonical attempt", attempt.ID, attempt.SettlementTxID)
			})
		}
		return nil
	})
}

// checkCanonicalAttempt verifies the canonical link of the transaction points at a
// Finalized attempt that belongs to it
func (m *Manager) checkCanonicalAttempt(ctx context.Context, dbTX persistence.DBTX, logicalTxID int64) error {
	tx, err := m.store.GetLogicalTx(ctx, dbTX, logicalTxID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if tx == nil {
		return m.invariantViolation(ctx, "attempt belongs to a missing transaction")
	}
	if tx.ConfirmedAttemptID == nil {
		return m.invariantViolation(ctx, "finalized transaction has no canonical attempt")
	}
	canonical, err := m.store.GetAttempt(ctx, dbTX, *tx.ConfirmedAttemptID)
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if canonical == nil || canonical.SettlementTxID != logicalTxID ||
		settleapi.FinalityStatus(canonical.FinalityStatus) != settleapi.FinalityFinalized {
		return m.invariantViolation(ctx, "canonical attempt is not a finalized attempt of the transaction")
	}
	return nil
}

func (m *Manager) invariantViolation(ctx context.Context, detail string) error {
	err := i18n.NewError(ctx, msgs.MsgInvariantViolation, detail)
	log.L(ctx).Errorf("%s", err)
	return err
}

func (m *Manager) unknownObservation(ctx context.Context, obsType settleapi.ObservationType, fingerprint string) {
	m.metrics.IncUnknownObservations()
	log.L(ctx).Warnf("Ignoring %s observation for unknown attempt %s", obsType, fingerprint)
}
