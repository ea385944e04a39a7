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

// UnfinalizeFrom reverts every entry of the namespace at or above fromNonce to unconfirmed.
// Finalized attempts return to Pending and lose their confirmation details, and every attempt of
// those entries forgets the block it was seen in. The whole unwind commits or rolls back as one.
// Calling it again with the same or a lower nonce is safe. Terminal failure flags are untouched.
func (m *Manager) UnfinalizeFrom(ctx context.Context, ns *settleapi.Namespace, fromNonce uint64) (unwound int64, err error) {
	if err := ns.Validate(ctx); err != nil {
		return -1, err
	}
	ctx = log.WithLogField(ctx, "namespace", ns.String())

	var cleared int64
	err = m.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) (err error) {
		// the canonical links go first, so no link is left pointing at a Pending attempt
		if cleared, err = m.store.ClearConfirmedFrom(ctx, dbTX, ns, fromNonce); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		if unwound, err = m.store.UnfinalizeAttemptsFrom(ctx, dbTX, ns, fromNonce); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		if _, err = m.store.ClearObservedBlocksFrom(ctx, dbTX, ns, fromNonce); err != nil {
			return i18n.WrapError(ctx, err, msgs.MsgLedgerWriteFailed)
		}
		return nil
	})
	if err != nil {
		log.L(ctx).Errorf("Reorg unwind from nonce %d rolled back: %s", fromNonce, err)
		return -1, err
	}

	m.metrics.AddReorgUnwoundAttempts(unwound)
	if cleared > 0 || unwound > 0 {
		log.L(ctx).Warnf("Reorg from nonce %d unconfirmed %d transactions and reverted %d attempts", fromNonce, cleared, unwound)
	} else {
		log.L(ctx).Infof("Reorg from nonce %d had nothing to unwind", fromNonce)
	}
	return unwound, nil
}

// OnReorg applies a reorg observation from the chain feed
func (m *Manager) OnReorg(ctx context.Context, obs *settleapi.Reorg) error {
	_, err := m.UnfinalizeFrom(ctx, &obs.Namespace, obs.FromNonce)
	return err
}
