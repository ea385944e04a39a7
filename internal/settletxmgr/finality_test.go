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
	"testing"
	"time"

	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarioSubmitIncludeFinalize(t *testing.T) {
	ctx, tm := newTestManager(t)

	a := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	assert.Equal(t, uint64(0), a.Nonce)
	a1 := tm.attempt(t, ctx, a, "signed-a1", 10, 1)
	require.NoError(t, tm.MarkBroadcastOK(ctx, a1.ID))

	require.NoError(t, tm.OnBlockIncluded(ctx, &settleapi.BlockIncluded{Fingerprint: a1.Fingerprint, BlockNumber: 100}))
	included := tm.attemptByID(t, ctx, a1.ID)
	assert.Equal(t, uint64(100), *included.ObservedAtBlock)
	assert.Equal(t, settleapi.FinalityPending, included.FinalityStatus)
	assert.Nil(t, tm.tx(t, ctx, a.ID).ConfirmedAttemptID)

	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, GasUsed: 50000, ChainID: confutil.P(uint64(300))}))
	confirmed := tm.tx(t, ctx, a.ID)
	assert.Equal(t, a1.ID, *confirmed.ConfirmedAttemptID)
	assert.Equal(t, uint64(300), *confirmed.SettlementChainID)
	finalized := tm.attemptByID(t, ctx, a1.ID)
	assert.Equal(t, settleapi.FinalityFinalized, finalized.FinalityStatus)
	assert.Equal(t, uint64(50000), *finalized.GasUsed)
	assert.NotNil(t, finalized.ConfirmedAt)
	assert.Equal(t, uint64(100), *finalized.ObservedAtBlock)

	fp, err := tm.ConfirmedFingerprint(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.Fingerprint.String(), *fp)

	br, err := tm.ObservedBlockRange(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, &settleapi.BlockRange{First: 100, Last: 100}, br)

	require.NoError(t, tm.CheckInvariants(ctx))
	assert.Equal(t, float64(1), tm.counter(t, "finalized_txns_total"))

	// the same observation again changes nothing
	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, GasUsed: 1}))
	assert.Equal(t, a1.ID, *tm.tx(t, ctx, a.ID).ConfirmedAttemptID)
	assert.Equal(t, finalized, tm.attemptByID(t, ctx, a1.ID))
	assert.Equal(t, float64(1), tm.counter(t, "finalized_txns_total"))
}

func TestFinalizedWithoutBroadcastMarksSubmitted(t *testing.T) {
	ctx, tm := newTestManager(t)
	a := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	a1 := tm.attempt(t, ctx, a, "signed-a1", 10, 1)

	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, GasUsed: 1, BlockNumber: confutil.P(uint64(7))}))
	finalized := tm.attemptByID(t, ctx, a1.ID)
	assert.True(t, finalized.SubmittedSuccessfully)
	assert.Equal(t, uint64(7), *finalized.ObservedAtBlock)
}

func TestScenarioFeeBump(t *testing.T) {
	ctx, tm := newTestManager(t)
	a := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	a1 := tm.attempt(t, ctx, a, "signed-a1", 10, 1)
	require.NoError(t, tm.MarkBroadcastOK(ctx, a1.ID))

	a2 := tm.attempt(t, ctx, a, "signed-a2", 11, 2)
	require.NoError(t, tm.MarkBroadcastOK(ctx, a2.ID))
	assert.NotEqual(t, a1.ID, a2.ID)

	attempts, err := tm.ListAttempts(ctx, a.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, a2.ID, attempts[0].ID)
	assert.Equal(t, a1.ID, attempts[1].ID)
	for _, att := range attempts {
		assert.Equal(t, a.ID, att.LogicalTxID)
	}

	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a2.Fingerprint, GasUsed: 100}))
	assert.Equal(t, a2.ID, *tm.tx(t, ctx, a.ID).ConfirmedAttemptID)
	assert.Equal(t, settleapi.FinalityPending, tm.attemptByID(t, ctx, a1.ID).FinalityStatus)

	// a late finality report for the replaced attempt keeps the first canonical attempt
	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, GasUsed: 100}))
	assert.Equal(t, a2.ID, *tm.tx(t, ctx, a.ID).ConfirmedAttemptID)
	assert.Equal(t, settleapi.FinalityFinalized, tm.attemptByID(t, ctx, a1.ID).FinalityStatus)
	require.NoError(t, tm.CheckInvariants(ctx))
	assert.Equal(t, float64(1), tm.counter(t, "finalized_txns_total"))
}

func TestUnknownObservationsSkipped(t *testing.T) {
	ctx, tm := newTestManager(t)
	unknown := settleapi.Fingerprint([]byte("never recorded"))

	require.NoError(t, tm.OnBlockIncluded(ctx, &settleapi.BlockIncluded{Fingerprint: unknown, BlockNumber: 1}))
	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: unknown}))
	assert.Equal(t, float64(2), tm.counter(t, "unknown_observations_total"))
}

func TestFinalizedChainConflictRollsBack(t *testing.T) {
	ctx, tm := newTestManager(t)
	a := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	a1 := tm.attempt(t, ctx, a, "signed-a1", 10, 1)
	require.NoError(t, tm.SetSettlementChainID(ctx, a.ID, 300))

	err := tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, ChainID: confutil.P(uint64(301))})
	assert.Regexp(t, "ES010217", err)
	assert.Nil(t, tm.tx(t, ctx, a.ID).ConfirmedAttemptID)
	assert.Equal(t, settleapi.FinalityPending, tm.attemptByID(t, ctx, a1.ID).FinalityStatus)
}

func TestFinalizedUsesObservedConfirmationTime(t *testing.T) {
	ctx, tm := newTestManager(t)
	a := tm.create(t, ctx, directNS, settleapi.OperationCommit)
	a1 := tm.attempt(t, ctx, a, "signed-a1", 10, 1)
	blockTime := time.Unix(1700000000, 0)

	require.NoError(t, tm.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a1.Fingerprint, ConfirmedAt: &blockTime}))
	assert.Equal(t, blockTime.UnixNano(), tm.attemptByID(t, ctx, a1.ID).ConfirmedAt.UnixNano())
}
