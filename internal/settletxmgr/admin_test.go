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
	"fmt"
	"testing"

	"github.com/rollup-settlement/ethsender/pkg/config"
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClearFailed(t *testing.T) {
	ctx, tm := newTestManager(t)

	deleted, err := tm.ClearFailed(ctx, directNS)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	txs := make([]*settleapi.LogicalTx, 4)
	for i := range txs {
		txs[i] = tm.create(t, ctx, directNS, settleapi.OperationCommit)
		tm.attempt(t, ctx, txs[i], fmt.Sprintf("signed-%d", i), 10, 1)
	}
	other := tm.create(t, ctx, gatewayNS, settleapi.OperationCommit)
	require.NoError(t, tm.MarkFailed(ctx, other.ID))
	require.NoError(t, tm.MarkFailed(ctx, txs[2].ID))

	deleted, err = tm.ClearFailed(ctx, directNS)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	gone, err := tm.GetLogicalTx(ctx, txs[3].ID)
	require.NoError(t, err)
	assert.Nil(t, gone)
	attempts, err := tm.ListAttempts(ctx, txs[2].ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)
	assert.True(t, tm.tx(t, ctx, other.ID).Failed)

	// the cleared nonces are allocated again
	next := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	assert.Equal(t, uint64(2), next.Nonce)

	_, err = tm.ClearFailed(ctx, &settleapi.Namespace{})
	assert.Regexp(t, "ES010212", err)
}

func TestPrune(t *testing.T) {
	ctx, tm := newTestManager(t, func(conf *config.SettlementTxManagerConfig) {
		conf.Retention.KeepNonces = confutil.P(1)
	})

	deleted, err := tm.PruneDefault(ctx, directNS)
	require.NoError(t, err)
	assert.Equal(t, int64(0), deleted)

	txs := make([]*settleapi.LogicalTx, 5)
	for i := range txs {
		txs[i] = tm.create(t, ctx, directNS, settleapi.OperationCommit)
		a := tm.attempt(t, ctx, txs[i], fmt.Sprintf("signed-%d", i), 10, 1)
		if i < 4 {
			require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a.Fingerprint}))
		}
	}

	// highest confirmed is 3, keeping one below it
	deleted, err = tm.PruneDefault(ctx, directNS)
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)
	for i, tx := range txs {
		got, err := tm.GetLogicalTx(ctx, tx.ID)
		require.NoError(t, err)
		assert.Equal(t, i >= 2, got != nil, "nonce %d", i)
	}

	deleted, err = tm.Prune(ctx, directNS, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	next := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	assert.Equal(t, uint64(5), next.Nonce)

	_, err = tm.Prune(ctx, directNS, -1)
	assert.Regexp(t, "ES010211", err)
}
