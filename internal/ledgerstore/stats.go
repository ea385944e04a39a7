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
)

type RouteCount struct {
	Route string `gorm:"column:route"`
	Count int64  `gorm:"column:count"`
}

type KindStats struct {
	Kind                  string  `gorm:"column:kind"`
	Total                 int64   `gorm:"column:total"`
	Confirmed             int64   `gorm:"column:confirmed"`
	Failed                int64   `gorm:"column:failed"`
	HighestConfirmedNonce *uint64 `gorm:"column:highest_confirmed_nonce"`
}

type BlockRange struct {
	FirstBlock *uint64 `gorm:"column:first_block"`
	LastBlock  *uint64 `gorm:"column:last_block"`
}

// CountInFlightByRoute counts entries without a canonical attempt, per route. A failed entry
// may still land on chain, so it stays in flight until it is confirmed or cleared.
func (s *SQLStore) CountInFlightByRoute(ctx context.Context, dbTX persistence.DBTX) ([]*RouteCount, error) {
	var counts []*RouteCount
	err := db(ctx, dbTX).Table(tableTxs).
		Select("route, COUNT(*) AS count").
		Where("confirmed_attempt_id IS NULL").
		Group("route").
		Order("route").
		Scan(&counts).Error
	return counts, err
}

func (s *SQLStore) CountFailed(ctx context.Context, dbTX persistence.DBTX) (count int64, err error) {
	err = db(ctx, dbTX).Table(tableTxs).Where("failed = ?", true).Count(&count).Error
	return count, err
}

func (s *SQLStore) CountUnconfirmed(ctx context.Context, dbTX persistence.DBTX) (count int64, err error) {
	err = db(ctx, dbTX).Table(tableTxs).
		Where("confirmed_attempt_id IS NULL").
		Count(&count).Error
	return count, err
}

func (s *SQLStore) StatsByKind(ctx context.Context, dbTX persistence.DBTX) ([]*KindStats, error) {
	var stats []*KindStats
	err := db(ctx, dbTX).Table(tableTxs).
		Select(`kind, COUNT(*) AS total, COUNT(confirmed_attempt_id) AS confirmed,` +
			` SUM(CASE WHEN failed THEN 1 ELSE 0 END) AS failed,` +
			` MAX(CASE WHEN confirmed_attempt_id IS NOT NULL THEN nonce END) AS highest_confirmed_nonce`).
		Group("kind").
		Order("kind").
		Scan(&stats).Error
	return stats, err
}

func (s *SQLStore) ObservedBlockRange(ctx context.Context, dbTX persistence.DBTX, txID int64) (*BlockRange, error) {
	var br BlockRange
	err := db(ctx, dbTX).Table(tableAttempts).
		Select("MIN(observed_at_block) AS first_block, MAX(observed_at_block) AS last_block").
		Where("settlement_tx_id = ?", txID).
		Scan(&br).Error
	return &br, err
}

func (s *SQLStore) ConfirmedFingerprint(ctx context.Context, dbTX persistence.DBTX, txID int64) (*string, error) {
	var fingerprints []string
	err := db(ctx, dbTX).Table(tableAttempts+" AS a").
		Joins("JOIN "+tableTxs+" AS t ON t.confirmed_attempt_id = a.id").
		Where("t.id = ?", txID).
		Limit(1).
		Pluck("a.fingerprint", &fingerprints).Error
	if err != nil || len(fingerprints) == 0 {
		return nil, err
	}
	return &fingerprints[0], nil
}

// CountDanglingConfirmations counts entries whose canonical link does not point at a
// finalized attempt of their own. Anything other than zero is a broken ledger.
func (s *SQLStore) CountDanglingConfirmations(ctx context.Context, dbTX persistence.DBTX) (count int64, err error) {
	err = db(ctx, dbTX).Table(tableTxs+" AS t").
		Joins("LEFT JOIN "+tableAttempts+" AS a ON t.confirmed_attempt_id = a.id").
		Where("t.confirmed_attempt_id IS NOT NULL").
		Where("(a.id IS NULL OR a.settlement_tx_id <> t.id OR a.finality_status <> ?)", string(settleapi.FinalityFinalized)).
		Count(&count).Error
	return count, err
}
