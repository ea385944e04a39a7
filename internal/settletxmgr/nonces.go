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

// NextNonce derives the nonce after the highest one ever assigned in the namespace, or 0.
// Nothing is reserved, so a nonce abandoned by the caller before creation is handed out again,
// while a created entry that never gets broadcast leaves a permanent gap.
func (m *Manager) NextNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (uint64, error) {
	highest, err := m.store.MaxNonce(ctx, dbTX, ns)
	if err != nil {
		log.L(ctx).Errorf("Failed to derive next nonce for %s: %s", ns, err)
		return 0, i18n.WrapError(ctx, err, msgs.MsgAllocationFailed, ns)
	}
	if highest == nil {
		return 0, nil
	}
	return *highest + 1, nil
}

// HighestNonce is the highest nonce assigned in the namespace, nil if there are none
func (m *Manager) HighestNonce(ctx context.Context, ns *settleapi.Namespace) (*uint64, error) {
	if err := ns.Validate(ctx); err != nil {
		return nil, err
	}
	highest, err := m.store.MaxNonce(ctx, m.p.NOTX(), ns)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	return highest, nil
}
