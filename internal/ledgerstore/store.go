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

package ledgerstore

import (
	"context"

	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// SQLStore is the durable ledger of settlement transactions and their attempts.
// It holds no state of its own. Every call runs against the supplied DBTX, so
// callers decide which statements commit together.
type SQLStore struct{}

func New() *SQLStore {
	return &SQLStore{}
}

func db(ctx context.Context, dbTX persistence.DBTX) *gorm.DB {
	return dbTX.DB().WithContext(ctx)
}

func inNamespace(q *gorm.DB, ns *settleapi.Namespace) *gorm.DB {
	return q.Where("signing_account = ?", ns.SigningAccount.String()).Where("route = ?", string(ns.Route))
}

// txIDsFromNonce is a sub-query selecting the ids of the namespace entries at or above fromNonce
func txIDsFromNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) *gorm.DB {
	return inNamespace(db(ctx, dbTX).Table(tableTxs).Select("id"), ns).Where("nonce >= ?", fromNonce)
}

type maxValue struct {
	Max *uint64 `gorm:"column:max_value"`
}

func (s *SQLStore) InsertLogicalTx(ctx context.Context, dbTX persistence.DBTX, tx *SettlementTx) error {
	return db(ctx, dbTX).Table(tableTxs).Create(tx).Error
}

func (s *SQLStore) GetLogicalTx(ctx context.Context, dbTX persistence.DBTX, id int64) (*SettlementTx, error) {
	var txs []*SettlementTx
	err := db(ctx, dbTX).Table(tableTxs).Where("id = ?", id).Limit(1).Find(&txs).Error
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return txs[0], nil
}

func (s *SQLStore) MaxNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error) {
	var res maxValue
	err := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("MAX(nonce) AS max_value"), ns).Scan(&res).Error
	return res.Max, err
}

// MaxConfirmedNonce is the highest nonce in the namespace with a canonical finalized attempt
func (s *SQLStore) MaxConfirmedNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error) {
	var res maxValue
	err := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("MAX(nonce) AS max_value"), ns).
		Where("confirmed_attempt_id IS NOT NULL").
		Scan(&res).Error
	return res.Max, err
}

// MaxPendingAttemptNonce is the highest nonce in the namespace that has at least one pending attempt
func (s *SQLStore) MaxPendingAttemptNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error) {
	var res maxValue
	pendingTxIDs := db(ctx, dbTX).Table(tableAttempts).
		Select("settlement_tx_id").
		Where("finality_status = ?", string(settleapi.FinalityPending))
	err := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("MAX(nonce) AS max_value"), ns).
		Where("id IN (?)", pendingTxIDs).
		Scan(&res).Error
	return res.Max, err
}

// MaxBroadcastNonce is the highest nonce in the namespace with an attempt the network accepted
func (s *SQLStore) MaxBroadcastNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error) {
	var res maxValue
	sentTxIDs := db(ctx, dbTX).Table(tableAttempts).
		Select("settlement_tx_id").
		Where("submitted_successfully = ?", true)
	err := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("MAX(nonce) AS max_value"), ns).
		Where("id IN (?)", sentTxIDs).
		Scan(&res).Error
	return res.Max, err
}

// ListUnconfirmed returns non-failed entries without a canonical attempt, in nonce order,
// with afterNonce < nonce <= maxNonce
func (s *SQLStore) ListUnconfirmed(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, afterNonce *uint64, maxNonce uint64, limit int) ([]*SettlementTx, error) {
	q := inNamespace(db(ctx, dbTX).Table(tableTxs), ns).
		Where("confirmed_attempt_id IS NULL").
		Where("failed = ?", false).
		Where("nonce <= ?", maxNonce)
	if afterNonce != nil {
		q = q.Where("nonce > ?", *afterNonce)
	}
	var txs []*SettlementTx
	err := q.Order("nonce ASC").Limit(limit).Find(&txs).Error
	return txs, err
}

func (s *SQLStore) ListAfterNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, afterNonce *uint64, limit int) ([]*SettlementTx, error) {
	q := inNamespace(db(ctx, dbTX).Table(tableTxs), ns).Where("failed = ?", false)
	if afterNonce != nil {
		q = q.Where("nonce > ?", *afterNonce)
	}
	var txs []*SettlementTx
	err := q.Order("nonce ASC").Limit(limit).Find(&txs).Error
	return txs, err
}

// OldestUnconfirmed is the earliest created entry across every namespace without a canonical attempt
func (s *SQLStore) OldestUnconfirmed(ctx context.Context, dbTX persistence.DBTX) (*SettlementTx, error) {
	var txs []*SettlementTx
	err := db(ctx, dbTX).Table(tableTxs).
		Where("confirmed_attempt_id IS NULL").
		Order("id ASC").
		Limit(1).
		Find(&txs).Error
	if err != nil || len(txs) == 0 {
		return nil, err
	}
	return txs[0], nil
}

func (s *SQLStore) SetFailed(ctx context.Context, dbTX persistence.DBTX, id int64) (int64, error) {
	res := db(ctx, dbTX).Table(tableTxs).Where("id = ?", id).Update("failed", true)
	return res.RowsAffected, res.Error
}

func (s *SQLStore) SetSettlementChainID(ctx context.Context, dbTX persistence.DBTX, id int64, chainID uint64) (int64, error) {
	res := db(ctx, dbTX).Table(tableTxs).Where("id = ?", id).Update("settlement_chain_id", chainID)
	return res.RowsAffected, res.Error
}

// SetConfirmedAttempt links the canonical attempt, only if no attempt is linked yet
func (s *SQLStore) SetConfirmedAttempt(ctx context.Context, dbTX persistence.DBTX, id, attemptID int64) (int64, error) {
	res := db(ctx, dbTX).Table(tableTxs).
		Where("id = ?", id).
		Where("confirmed_attempt_id IS NULL").
		Update("confirmed_attempt_id", attemptID)
	return res.RowsAffected, res.Error
}

// ClearConfirmedFrom drops the canonical attempt link of every namespace entry at or above fromNonce
func (s *SQLStore) ClearConfirmedFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error) {
	res := inNamespace(db(ctx, dbTX).Table(tableTxs), ns).
		Where("nonce >= ?", fromNonce).
		Where("confirmed_attempt_id IS NOT NULL").
		Update("confirmed_attempt_id", nil)
	return res.RowsAffected, res.Error
}

// UnfinalizeAttemptsFrom reverts every finalized attempt of the namespace entries at or above fromNonce
func (s *SQLStore) UnfinalizeAttemptsFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error) {
	res := db(ctx, dbTX).Table(tableAttempts).
		Where("settlement_tx_id IN (?)", txIDsFromNonce(ctx, dbTX, ns, fromNonce)).
		Where("finality_status = ?", string(settleapi.FinalityFinalized)).
		Updates(map[string]any{
			"finality_status":        string(settleapi.FinalityPending),
			"confirmed_at":           nil,
			"gas_used":               nil,
			"submitted_successfully": false,
			"observed_at_block":      nil,
		})
	return res.RowsAffected, res.Error
}

// ClearObservedBlocksFrom forgets block inclusion for every attempt of the namespace entries at or above fromNonce
func (s *SQLStore) ClearObservedBlocksFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error) {
	res := db(ctx, dbTX).Table(tableAttempts).
		Where("settlement_tx_id IN (?)", txIDsFromNonce(ctx, dbTX, ns, fromNonce)).
		Where("observed_at_block IS NOT NULL").
		Update("observed_at_block", nil)
	return res.RowsAffected, res.Error
}

// MinFailedNonce is the lowest nonce in the namespace flagged as terminally failed
func (s *SQLStore) MinFailedNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error) {
	var res maxValue
	err := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("MIN(nonce) AS max_value"), ns).
		Where("failed = ?", true).
		Scan(&res).Error
	return res.Max, err
}

// DeleteFromNonce removes the namespace entries at or above fromNonce along with their attempts
func (s *SQLStore) DeleteFromNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error) {
	err := db(ctx, dbTX).Table(tableAttempts).
		Where("settlement_tx_id IN (?)", txIDsFromNonce(ctx, dbTX, ns, fromNonce)).
		Delete(&SettlementTxAttempt{}).Error
	if err != nil {
		return -1, err
	}
	res := inNamespace(db(ctx, dbTX).Table(tableTxs), ns).
		Where("nonce >= ?", fromNonce).
		Delete(&SettlementTx{})
	return res.RowsAffected, res.Error
}

// DeleteConfirmedBelowNonce removes confirmed namespace entries below belowNonce along with their attempts
func (s *SQLStore) DeleteConfirmedBelowNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, belowNonce uint64) (int64, error) {
	prunable := inNamespace(db(ctx, dbTX).Table(tableTxs).Select("id"), ns).
		Where("nonce < ?", belowNonce).
		Where("confirmed_attempt_id IS NOT NULL")
	err := db(ctx, dbTX).Table(tableAttempts).
		Where("settlement_tx_id IN (?)", prunable).
		Delete(&SettlementTxAttempt{}).Error
	if err != nil {
		return -1, err
	}
	res := inNamespace(db(ctx, dbTX).Table(tableTxs), ns).
		Where("nonce < ?", belowNonce).
		Where("confirmed_attempt_id IS NOT NULL").
		Delete(&SettlementTx{})
	return res.RowsAffected, res.Error
}

// InsertAttempt writes the attempt unless its fingerprint is already recorded, in which case the
// stored row is left untouched and false is returned
func (s *SQLStore) InsertAttempt(ctx context.Context, dbTX persistence.DBTX, attempt *SettlementTxAttempt) (bool, error) {
	res := db(ctx, dbTX).Table(tableAttempts).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			DoNothing: true,
		}).
		Create(attempt)
	return res.RowsAffected > 0, res.Error
}

func (s *SQLStore) GetAttempt(ctx context.Context, dbTX persistence.DBTX, id int64) (*SettlementTxAttempt, error) {
	var attempts []*SettlementTxAttempt
	err := db(ctx, dbTX).Table(tableAttempts).Where("id = ?", id).Limit(1).Find(&attempts).Error
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

func (s *SQLStore) GetAttemptByFingerprint(ctx context.Context, dbTX persistence.DBTX, fingerprint string) (*SettlementTxAttempt, error) {
	var attempts []*SettlementTxAttempt
	err := db(ctx, dbTX).Table(tableAttempts).Where("fingerprint = ?", fingerprint).Limit(1).Find(&attempts).Error
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

// ListAttempts returns the attempts of one entry, newest first
func (s *SQLStore) ListAttempts(ctx context.Context, dbTX persistence.DBTX, txID int64) ([]*SettlementTxAttempt, error) {
	var attempts []*SettlementTxAttempt
	err := db(ctx, dbTX).Table(tableAttempts).Where("settlement_tx_id = ?", txID).Order("id DESC").Find(&attempts).Error
	return attempts, err
}

func (s *SQLStore) LastBroadcastAttempt(ctx context.Context, dbTX persistence.DBTX, txID int64) (*SettlementTxAttempt, error) {
	var attempts []*SettlementTxAttempt
	err := db(ctx, dbTX).Table(tableAttempts).
		Where("settlement_tx_id = ?", txID).
		Where("submitted_successfully = ?", true).
		Order("id DESC").
		Limit(1).
		Find(&attempts).Error
	if err != nil || len(attempts) == 0 {
		return nil, err
	}
	return attempts[0], nil
}

// ListPendingAttempts returns broadcast attempts still awaiting finality, oldest first,
// skipping those of failed entries
func (s *SQLStore) ListPendingAttempts(ctx context.Context, dbTX persistence.DBTX, chainID *uint64, limit int) ([]*SettlementTxAttempt, error) {
	txIDs := db(ctx, dbTX).Table(tableTxs).Select("id").Where("failed = ?", false)
	if chainID != nil {
		txIDs = txIDs.Where("settlement_chain_id = ?", *chainID)
	}
	var attempts []*SettlementTxAttempt
	err := db(ctx, dbTX).Table(tableAttempts).
		Where("finality_status = ?", string(settleapi.FinalityPending)).
		Where("submitted_successfully = ?", true).
		Where("settlement_tx_id IN (?)", txIDs).
		Order("id ASC").
		Limit(limit).
		Find(&attempts).Error
	return attempts, err
}

func (s *SQLStore) SetBroadcastOK(ctx context.Context, dbTX persistence.DBTX, attemptID int64) (int64, error) {
	res := db(ctx, dbTX).Table(tableAttempts).Where("id = ?", attemptID).Update("submitted_successfully", true)
	return res.RowsAffected, res.Error
}

func (s *SQLStore) SetObservedAtBlock(ctx context.Context, dbTX persistence.DBTX, attemptID int64, block uint64) (int64, error) {
	res := db(ctx, dbTX).Table(tableAttempts).Where("id = ?", attemptID).Update("observed_at_block", block)
	return res.RowsAffected, res.Error
}

// FinalizeAttempt moves an attempt to finalized. Inclusion on chain also proves the broadcast.
func (s *SQLStore) FinalizeAttempt(ctx context.Context, dbTX persistence.DBTX, attemptID int64, confirmedAt int64, gasUsed uint64, observedAtBlock *uint64) (int64, error) {
	updates := map[string]any{
		"finality_status":        string(settleapi.FinalityFinalized),
		"confirmed_at":           confirmedAt,
		"gas_used":               gasUsed,
		"submitted_successfully": true,
	}
	if observedAtBlock != nil {
		updates["observed_at_block"] = *observedAtBlock
	}
	res := db(ctx, dbTX).Table(tableAttempts).Where("id = ?", attemptID).Updates(updates)
	return res.RowsAffected, res.Error
}
