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
	"iter"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// NextUnconfirmed iterates the unconfirmed, non-failed entries of the namespace in nonce order.
// The window starts above the highest confirmed nonce, so nothing below a confirmed entry is
// ever surfaced, and ends at the highest nonce with a Pending attempt.
//
// The sequence is read lazily a page at a time and stops after limit entries. Each range over it
// re-reads the window, so it can be restarted.
func (m *Manager) NextUnconfirmed(ctx context.Context, ns *settleapi.Namespace, limit int) iter.Seq2[*settleapi.LogicalTx, error] {
	return func(yield func(*settleapi.LogicalTx, error) bool) {
		if err := ns.Validate(ctx); err != nil {
			yield(nil, err)
			return
		}
		if limit <= 0 {
			yield(nil, i18n.NewError(ctx, msgs.MsgInvalidLimit))
			return
		}
		after, upper, err := m.unconfirmedWindow(ctx, ns)
		if err != nil {
			yield(nil, err)
			return
		}
		if upper == nil {
			return
		}

		remaining := limit
		for remaining > 0 {
			pageSize := min(remaining, m.queryPageSize)
			page, err := m.store.ListUnconfirmed(ctx, m.p.NOTX(), ns, after, *upper, pageSize)
			if err != nil {
				yield(nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed))
				return
			}
			for _, dbTx := range page {
				if !yield(ledgerstore.MapDBToLogicalTx(dbTx), nil) {
					return
				}
			}
			if len(page) < pageSize {
				return
			}
			remaining -= len(page)
			lastNonce := page[len(page)-1].Nonce
			after = &lastNonce
		}
	}
}

// ListNextUnconfirmed collects NextUnconfirmed into a slice
func (m *Manager) ListNextUnconfirmed(ctx context.Context, ns *settleapi.Namespace, limit int) ([]*settleapi.LogicalTx, error) {
	txs := []*settleapi.LogicalTx{}
	for tx, err := range m.NextUnconfirmed(ctx, ns, limit) {
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, nil
}

func (m *Manager) unconfirmedWindow(ctx context.Context, ns *settleapi.Namespace) (after, upper *uint64, err error) {
	after, err = m.store.MaxConfirmedNonce(ctx, m.p.NOTX(), ns)
	if err == nil {
		upper, err = m.store.MaxPendingAttemptNonce(ctx, m.p.NOTX(), ns)
	}
	if err != nil {
		return nil, nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return after, upper, nil
}
