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
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// ClearFailed deletes every entry of the namespace from the lowest failed nonce upwards, with
// their attempts. This is an operator action: the deleted nonces are handed out again by the
// allocator, which is only correct once the operator knows none of them will land on chain.
func (m *Manager) ClearFailed(ctx context.Context, ns *settleapi.Namespace) (deleted int64, err error) {
	if err := ns.Validate(ctx); err != nil {
		return -1, err
	}
	ctx = log.WithLogField(ctx, "namespace", ns.String())

	var fromNonce *uint64
	err = m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		if err := m.p.TakeNamedLock(ctx, dbTX, ns.String()); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		if fromNonce, err = m.store.MinFailedNonce(ctx, dbTX, ns); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
		}
		if fromNonce == nil {
			return nil
		}
		if deleted, err = m.store.DeleteFromNonce(ctx, dbTX, ns, *fromNonce); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	if fromNonce != nil {
		log.L(ctx).Warnf("Cleared %d transactions from failed nonce %d", deleted, *fromNonce)
	}
	return deleted, nil
}

// Prune deletes confirmed entries more than keepNonces below the highest confirmed nonce.
// The highest entry of the namespace always survives, so nonce allocation is unaffected.
func (m *Manager) Prune(ctx context.Context, ns *settleapi.Namespace, keepNonces int) (deleted int64, err error) {
	if err := ns.Validate(ctx); err != nil {
		return -1, err
	}
	if keepNonces < 0 {
		return -1, i18n.NewError(ctx, msgs.MsgInvalidLimit)
	}
	ctx = log.WithLogField(ctx, "namespace", ns.String())

	var below uint64
	err = m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		highest, err := m.store.MaxConfirmedNonce(ctx, dbTX, ns)
		if err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
		}
		if highest == nil || *highest < uint64(keepNonces) {
			return nil
		}
		below = *highest - uint64(keepNonces)
		if deleted, err = m.store.DeleteConfirmedBelowNonce(ctx, dbTX, ns, below); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		return nil
	})
	if err != nil {
		return -1, err
	}
	log.L(ctx).Infof("Pruned %d confirmed transactions below nonce %d", deleted, below)
	return deleted, nil
}

// PruneDefault prunes with the configured retention
func (m *Manager) PruneDefault(ctx context.Context, ns *settleapi.Namespace) (int64, error) {
	return m.Prune(ctx, ns, m.keepNonces)
}
