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
	"fmt"
	"testing"
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNS = &settleapi.Namespace{
	SigningAccount: *ethtypes.MustNewAddress("0x2222222222222222222222222222222222222222"),
	Route:          settleapi.RouteDirect,
}

func newTestStore(t *testing.T) (context.Context, *SQLStore, persistence.Persistence) {
	ctx := context.Background()
	p, done, err := persistence.NewUnitTestPersistence(ctx)
	require.NoError(t, err)
	t.Cleanup(done)
	return ctx, New(), p
}

func insertTx(t *testing.T, ctx context.Context, s *SQLStore, p persistence.Persistence, ns *settleapi.Namespace, nonce uint64) *SettlementTx {
	tx := MapLogicalTxToDB(&settleapi.LogicalTx{
		Created:        time.Now(),
		Kind:           settleapi.OperationCommit,
		Payload:        []byte{0x01},
		Nonce:          nonce,
		SigningAccount: ns.SigningAccount,
		Route:          ns.Route,
	})
	require.NoError(t, s.InsertLogicalTx(ctx, p.NOTX(), tx))
	require.NotZero(t, tx.ID)
	return tx
}

func insertAttempt(t *testing.T, ctx context.Context, s *SQLStore, p persistence.Persistence, txID int64, signed string) *SettlementTxAttempt {
	a := MapAttemptToDB(&settleapi.Attempt{
		LogicalTxID:    txID,
		Created:        time.Now(),
		Fees:           settleapi.FeeParameters{BaseFeePerGas: 10, PriorityFeePerGas: 1},
		SignedPayload:  []byte(signed),
		Fingerprint:    settleapi.Fingerprint([]byte(signed)),
		FinalityStatus: settleapi.FinalityPending,
	})
	inserted, err := s.InsertAttempt(ctx, p.NOTX(), a)
	require.NoError(t, err)
	require.True(t, inserted)
	require.NotZero(t, a.ID)
	return a
}

func TestLogicalTxRoundTrip(t *testing.T) {
	ctx, s, p := newTestStore(t)

	maxNonce, err := s.MaxNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Nil(t, maxNonce)

	tx := insertTx(t, ctx, s, p, testNS, 0)
	insertTx(t, ctx, s, p, testNS, 1)

	maxNonce, err = s.MaxNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), *maxNonce)

	got, err := s.GetLogicalTx(ctx, p.NOTX(), tx.ID)
	require.NoError(t, err)
	lt := MapDBToLogicalTx(got)
	assert.Equal(t, testNS.SigningAccount, lt.SigningAccount)
	assert.Equal(t, settleapi.RouteDirect, lt.Route)
	assert.Equal(t, settleapi.OperationCommit, lt.Kind)
	assert.Equal(t, "0x01", lt.Payload.String())

	missing, err := s.GetLogicalTx(ctx, p.NOTX(), 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
	assert.Nil(t, MapDBToLogicalTx(nil))
}

func TestNonceUniquePerNamespace(t *testing.T) {
	ctx, s, p := newTestStore(t)
	insertTx(t, ctx, s, p, testNS, 0)

	dup := &SettlementTx{Kind: "commit", Payload: []byte{1}, SigningAccount: testNS.SigningAccount.String(), Route: string(testNS.Route)}
	err := s.InsertLogicalTx(ctx, p.NOTX(), dup)
	assert.Error(t, err)

	gateway := &settleapi.Namespace{SigningAccount: testNS.SigningAccount, Route: settleapi.RouteGateway}
	insertTx(t, ctx, s, p, gateway, 0)
}

func TestInsertAttemptLeavesRecordedFingerprintUntouched(t *testing.T) {
	ctx, s, p := newTestStore(t)
	tx := insertTx(t, ctx, s, p, testNS, 0)
	a := insertAttempt(t, ctx, s, p, tx.ID, "signed-1")
	_, err := s.SetObservedAtBlock(ctx, p.NOTX(), a.ID, 120)
	require.NoError(t, err)

	again := *a
	again.ID = 0
	again.BaseFeePerGas = 99
	again.ObservedAtBlock = nil
	inserted, err := s.InsertAttempt(ctx, p.NOTX(), &again)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetAttemptByFingerprint(ctx, p.NOTX(), a.Fingerprint)
	require.NoError(t, err)
	assert.Equal(t, a.ID, got.ID)
	assert.Equal(t, uint64(10), got.BaseFeePerGas)
	assert.Equal(t, uint64(120), *got.ObservedAtBlock)

	attempts, err := s.ListAttempts(ctx, p.NOTX(), tx.ID)
	require.NoError(t, err)
	assert.Len(t, attempts, 1)

	missing, err := s.GetAttemptByFingerprint(ctx, p.NOTX(), "0x00")
	require.NoError(t, err)
	assert.Nil(t, missing)
	missing, err = s.GetAttempt(ctx, p.NOTX(), 999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestFinalizeAndUnwind(t *testing.T) {
	ctx, s, p := newTestStore(t)
	tx0 := insertTx(t, ctx, s, p, testNS, 0)
	tx1 := insertTx(t, ctx, s, p, testNS, 1)
	a0 := insertAttempt(t, ctx, s, p, tx0.ID, "a0")
	a1 := insertAttempt(t, ctx, s, p, tx1.ID, "a1")

	for _, fin := range []struct{ tx, a int64 }{{tx0.ID, a0.ID}, {tx1.ID, a1.ID}} {
		n, err := s.FinalizeAttempt(ctx, p.NOTX(), fin.a, time.Now().UnixNano(), 21000, confutil.P(uint64(100)))
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = s.SetConfirmedAttempt(ctx, p.NOTX(), fin.tx, fin.a)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	}

	// only the first link sticks
	n, err := s.SetConfirmedAttempt(ctx, p.NOTX(), tx0.ID, a1.ID)
	require.NoError(t, err)
	assert.Zero(t, n)

	maxConfirmed, err := s.MaxConfirmedNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), *maxConfirmed)

	fp, err := s.ConfirmedFingerprint(ctx, p.NOTX(), tx1.ID)
	require.NoError(t, err)
	assert.Equal(t, a1.Fingerprint, *fp)

	dangling, err := s.CountDanglingConfirmations(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Zero(t, dangling)

	err = p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
		n, err := s.ClearConfirmedFrom(ctx, dbTX, testNS, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		n, err = s.UnfinalizeAttemptsFrom(ctx, dbTX, testNS, 1)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		_, err = s.ClearObservedBlocksFrom(ctx, dbTX, testNS, 1)
		return err
	})
	require.NoError(t, err)

	got, err := s.GetAttempt(ctx, p.NOTX(), a1.ID)
	require.NoError(t, err)
	assert.Equal(t, string(settleapi.FinalityPending), got.FinalityStatus)
	assert.Nil(t, got.ObservedAtBlock)
	assert.Nil(t, got.ConfirmedAt)
	assert.Nil(t, got.GasUsed)
	assert.False(t, got.SubmittedSuccessfully)

	got, err = s.GetAttempt(ctx, p.NOTX(), a0.ID)
	require.NoError(t, err)
	assert.Equal(t, string(settleapi.FinalityFinalized), got.FinalityStatus)
	assert.Equal(t, uint64(100), *got.ObservedAtBlock)

	fp, err = s.ConfirmedFingerprint(ctx, p.NOTX(), tx1.ID)
	require.NoError(t, err)
	assert.Nil(t, fp)

	pendingMax, err := s.MaxPendingAttemptNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), *pendingMax)
}

func TestListUnconfirmedWindow(t *testing.T) {
	ctx, s, p := newTestStore(t)
	for i := uint64(0); i < 5; i++ {
		insertTx(t, ctx, s, p, testNS, i)
	}
	txs, err := s.ListUnconfirmed(ctx, p.NOTX(), testNS, nil, 3, 10)
	require.NoError(t, err)
	require.Len(t, txs, 4)
	assert.Equal(t, uint64(0), txs[0].Nonce)

	txs, err = s.ListUnconfirmed(ctx, p.NOTX(), testNS, confutil.P(uint64(1)), 3, 1)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(2), txs[0].Nonce)

	txs, err = s.ListAfterNonce(ctx, p.NOTX(), testNS, confutil.P(uint64(3)), 10)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, uint64(4), txs[0].Nonce)
}

func TestFailedClearAndPrune(t *testing.T) {
	ctx, s, p := newTestStore(t)
	var txs []*SettlementTx
	for i := uint64(0); i < 6; i++ {
		tx := insertTx(t, ctx, s, p, testNS, i)
		insertAttempt(t, ctx, s, p, tx.ID, fmt.Sprintf("attempt-%d", i))
		txs = append(txs, tx)
	}

	n, err := s.SetFailed(ctx, p.NOTX(), txs[4].ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	failed, err := s.CountFailed(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Equal(t, int64(1), failed)

	minFailed, err := s.MinFailedNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), *minFailed)

	n, err = s.DeleteFromNonce(ctx, p.NOTX(), testNS, *minFailed)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	maxNonce, err := s.MaxNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), *maxNonce)

	for _, tx := range txs[0:3] {
		attempts, err := s.ListAttempts(ctx, p.NOTX(), tx.ID)
		require.NoError(t, err)
		_, err = s.FinalizeAttempt(ctx, p.NOTX(), attempts[0].ID, time.Now().UnixNano(), 1, nil)
		require.NoError(t, err)
		_, err = s.SetConfirmedAttempt(ctx, p.NOTX(), tx.ID, attempts[0].ID)
		require.NoError(t, err)
	}

	n, err = s.DeleteConfirmedBelowNonce(ctx, p.NOTX(), testNS, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	attempts, err := s.ListAttempts(ctx, p.NOTX(), txs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, attempts)

	unconfirmed, err := s.CountUnconfirmed(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Equal(t, int64(1), unconfirmed)
}

func TestStatsQueries(t *testing.T) {
	ctx, s, p := newTestStore(t)
	gateway := &settleapi.Namespace{SigningAccount: testNS.SigningAccount, Route: settleapi.RouteGateway}
	tx0 := insertTx(t, ctx, s, p, testNS, 0)
	insertTx(t, ctx, s, p, testNS, 1)
	gatewayTx := insertTx(t, ctx, s, p, gateway, 0)
	a0 := insertAttempt(t, ctx, s, p, tx0.ID, "a0")

	_, err := s.SetObservedAtBlock(ctx, p.NOTX(), a0.ID, 50)
	require.NoError(t, err)
	a0b := insertAttempt(t, ctx, s, p, tx0.ID, "a0-bumped")
	_, err = s.SetObservedAtBlock(ctx, p.NOTX(), a0b.ID, 55)
	require.NoError(t, err)

	br, err := s.ObservedBlockRange(ctx, p.NOTX(), tx0.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(50), *br.FirstBlock)
	assert.Equal(t, uint64(55), *br.LastBlock)

	counts, err := s.CountInFlightByRoute(ctx, p.NOTX())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, "direct", counts[0].Route)
	assert.Equal(t, int64(2), counts[0].Count)
	assert.Equal(t, "gateway", counts[1].Route)
	assert.Equal(t, int64(1), counts[1].Count)

	oldest, err := s.OldestUnconfirmed(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Equal(t, tx0.ID, oldest.ID)

	// failed entries without a canonical attempt are still unconfirmed
	_, err = s.SetFailed(ctx, p.NOTX(), gatewayTx.ID)
	require.NoError(t, err)
	counts, err = s.CountInFlightByRoute(ctx, p.NOTX())
	require.NoError(t, err)
	require.Len(t, counts, 2)
	assert.Equal(t, int64(1), counts[1].Count)
	unconfirmed, err := s.CountUnconfirmed(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Equal(t, int64(3), unconfirmed)
	oldest, err = s.OldestUnconfirmed(ctx, p.NOTX())
	require.NoError(t, err)
	assert.Equal(t, tx0.ID, oldest.ID)

	_, err = s.SetBroadcastOK(ctx, p.NOTX(), a0b.ID)
	require.NoError(t, err)
	last, err := s.LastBroadcastAttempt(ctx, p.NOTX(), tx0.ID)
	require.NoError(t, err)
	assert.Equal(t, a0b.ID, last.ID)

	sentMax, err := s.MaxBroadcastNonce(ctx, p.NOTX(), testNS)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), *sentMax)

	pending, err := s.ListPendingAttempts(ctx, p.NOTX(), nil, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, a0b.ID, pending[0].ID)

	pending, err = s.ListPendingAttempts(ctx, p.NOTX(), confutil.P(uint64(324)), 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
	_, err = s.SetSettlementChainID(ctx, p.NOTX(), tx0.ID, 324)
	require.NoError(t, err)
	pending, err = s.ListPendingAttempts(ctx, p.NOTX(), confutil.P(uint64(324)), 10)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	_, err = s.FinalizeAttempt(ctx, p.NOTX(), a0b.ID, time.Now().UnixNano(), 1, nil)
	require.NoError(t, err)
	_, err = s.SetConfirmedAttempt(ctx, p.NOTX(), tx0.ID, a0b.ID)
	require.NoError(t, err)

	stats, err := s.StatsByKind(ctx, p.NOTX())
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(t, "commit", stats[0].Kind)
	assert.Equal(t, int64(3), stats[0].Total)
	assert.Equal(t, int64(1), stats[0].Confirmed)
	assert.Equal(t, int64(1), stats[0].Failed)
	assert.Equal(t, uint64(0), *stats[0].HighestConfirmedNonce)

	mapped := MapDBToAttempts([]*SettlementTxAttempt{a0})
	assert.Equal(t, settleapi.Fingerprint([]byte("a0")), mapped[0].Fingerprint)
	assert.Len(t, MapDBToLogicalTxs([]*SettlementTx{tx0}), 1)
}
