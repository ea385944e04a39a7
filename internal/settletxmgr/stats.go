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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// InFlightCounts is the number of unconfirmed entries per route, failed ones included.
// Every known route is present, with zero if it has nothing in flight.
func (m *Manager) InFlightCounts(ctx context.Context) (map[settleapi.SettlementRoute]int64, error) {
	rows, err := m.store.CountInFlightByRoute(ctx, m.p.NOTX())
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	counts := make(map[settleapi.SettlementRoute]int64, len(settleapi.SettlementRoutes()))
	for _, route := range settleapi.SettlementRoutes() {
		counts[route] = 0
	}
	for _, row := range rows {
		counts[settleapi.SettlementRoute(row.Route)] = row.Count
	}
	return counts, nil
}

// CanMigrateFrom reports whether nothing on the route is still unconfirmed, which is the
// precondition for switching a signing account to another route
func (m *Manager) CanMigrateFrom(ctx context.Context, route settleapi.SettlementRoute) (bool, error) {
	if err := route.Validate(ctx); err != nil {
		return false, err
	}
	counts, err := m.InFlightCounts(ctx)
	if err != nil {
		return false, err
	}
	return counts[route] == 0, nil
}

func (m *Manager) FailedCount(ctx context.Context) (int64, error) {
	count, err := m.store.CountFailed(ctx, m.p.NOTX())
	if err != nil {
		return -1, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return count, nil
}

func (m *Manager) UnconfirmedCount(ctx context.Context) (int64, error) {
	count, err := m.store.CountUnconfirmed(ctx, m.p.NOTX())
	if err != nil {
		return -1, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return count, nil
}

// OldestUnfinalizedAcrossAllAccounts is the earliest created entry of any namespace still without
// a canonical attempt, with the chain it landed on if known. Nil when everything is confirmed.
func (m *Manager) OldestUnfinalizedAcrossAllAccounts(ctx context.Context) (*settleapi.OldestUnfinalized, error) {
	dbTx, err := m.store.OldestUnconfirmed(ctx, m.p.NOTX())
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if dbTx == nil {
		return nil, nil
	}
	tx := ledgerstore.MapDBToLogicalTx(dbTx)
	return &settleapi.OldestUnfinalized{ChainID: tx.SettlementChainID, Tx: tx}, nil
}

// OperationStats has one entry per operation kind, in declaration order
func (m *Manager) OperationStats(ctx context.Context) ([]*settleapi.OperationStat, error) {
	rows, err := m.store.StatsByKind(ctx, m.p.NOTX())
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	byKind := make(map[settleapi.OperationKind]*ledgerstore.KindStats, len(rows))
	for _, row := range rows {
		byKind[settleapi.OperationKind(row.Kind)] = row
	}
	stats := make([]*settleapi.OperationStat, 0, len(settleapi.OperationKinds()))
	for _, kind := range settleapi.OperationKinds() {
		stat := &settleapi.OperationStat{Kind: kind}
		if row := byKind[kind]; row != nil {
			stat.Total = row.Total
			stat.Confirmed = row.Confirmed
			stat.Failed = row.Failed
			stat.HighestConfirmedNonce = row.HighestConfirmedNonce
		}
		stats = append(stats, stat)
	}
	return stats, nil
}

// CheckInvariants scans the whole ledger for canonical links to anything other than a
// Finalized attempt of the same transaction
func (m *Manager) CheckInvariants(ctx context.Context) error {
	dangling, err := m.store.CountDanglingConfirmations(ctx, m.p.NOTX())
	if err != nil {
		return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if dangling > 0 {
		return m.invariantViolation(ctx, "transactions with a canonical attempt that is not finalized")
	}
	log.L(ctx).Debugf("Ledger invariants hold")
	return nil
}
