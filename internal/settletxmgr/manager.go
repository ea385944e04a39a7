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
	"sync"

	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr/metrics"
	"github.com/rollup-settlement/ethsender/pkg/config"
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/retry"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// LedgerStore is the storage contract the manager runs against
type LedgerStore interface {
	InsertLogicalTx(ctx context.Context, dbTX persistence.DBTX, tx *ledgerstore.SettlementTx) error
	GetLogicalTx(ctx context.Context, dbTX persistence.DBTX, id int64) (*ledgerstore.SettlementTx, error)
	MaxNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error)
	MaxConfirmedNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error)
	MaxPendingAttemptNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error)
	MaxBroadcastNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error)
	MinFailedNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace) (*uint64, error)
	ListUnconfirmed(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, afterNonce *uint64, maxNonce uint64, limit int) ([]*ledgerstore.SettlementTx, error)
	ListAfterNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, afterNonce *uint64, limit int) ([]*ledgerstore.SettlementTx, error)
	OldestUnconfirmed(ctx context.Context, dbTX persistence.DBTX) (*ledgerstore.SettlementTx, error)
	SetFailed(ctx context.Context, dbTX persistence.DBTX, id int64) (int64, error)
	SetSettlementChainID(ctx context.Context, dbTX persistence.DBTX, id int64, chainID uint64) (int64, error)
	SetConfirmedAttempt(ctx context.Context, dbTX persistence.DBTX, id, attemptID int64) (int64, error)
	ClearConfirmedFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error)
	UnfinalizeAttemptsFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error)
	ClearObservedBlocksFrom(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error)
	DeleteFromNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, fromNonce uint64) (int64, error)
	DeleteConfirmedBelowNonce(ctx context.Context, dbTX persistence.DBTX, ns *settleapi.Namespace, belowNonce uint64) (int64, error)
	InsertAttempt(ctx context.Context, dbTX persistence.DBTX, attempt *ledgerstore.SettlementTxAttempt) (bool, error)
	GetAttempt(ctx context.Context, dbTX persistence.DBTX, id int64) (*ledgerstore.SettlementTxAttempt, error)
	GetAttemptByFingerprint(ctx context.Context, dbTX persistence.DBTX, fingerprint string) (*ledgerstore.SettlementTxAttempt, error)
	ListAttempts(ctx context.Context, dbTX persistence.DBTX, txID int64) ([]*ledgerstore.SettlementTxAttempt, error)
	LastBroadcastAttempt(ctx context.Context, dbTX persistence.DBTX, txID int64) (*ledgerstore.SettlementTxAttempt, error)
	ListPendingAttempts(ctx context.Context, dbTX persistence.DBTX, chainID *uint64, limit int) ([]*ledgerstore.SettlementTxAttempt, error)
	SetBroadcastOK(ctx context.Context, dbTX persistence.DBTX, attemptID int64) (int64, error)
	SetObservedAtBlock(ctx context.Context, dbTX persistence.DBTX, attemptID int64, block uint64) (int64, error)
	FinalizeAttempt(ctx context.Context, dbTX persistence.DBTX, attemptID int64, confirmedAt int64, gasUsed uint64, observedAtBlock *uint64) (int64, error)
	CountInFlightByRoute(ctx context.Context, dbTX persistence.DBTX) ([]*ledgerstore.RouteCount, error)
	CountFailed(ctx context.Context, dbTX persistence.DBTX) (int64, error)
	CountUnconfirmed(ctx context.Context, dbTX persistence.DBTX) (int64, error)
	StatsByKind(ctx context.Context, dbTX persistence.DBTX) ([]*ledgerstore.KindStats, error)
	ObservedBlockRange(ctx context.Context, dbTX persistence.DBTX, txID int64) (*ledgerstore.BlockRange, error)
	ConfirmedFingerprint(ctx context.Context, dbTX persistence.DBTX, txID int64) (*string, error)
	CountDanglingConfirmations(ctx context.Context, dbTX persistence.DBTX) (int64, error)
}

// Manager tracks settlement transactions from creation through finality.
//
// Nonce allocation and creation must have a single writer per namespace. Chain
// observations can be applied concurrently with submission, directly or through
// the observation feed started by Start.
type Manager struct {
	ctx       context.Context
	cancelCtx context.CancelFunc

	p       persistence.Persistence
	store   LedgerStore
	metrics metrics.SettlementTxManagerMetrics

	queryPageSize           int
	gasPriceIncreasePercent int
	baseFeeCap              *uint64
	priorityFeeCap          *uint64
	blobBaseFeeCap          *uint64
	keepNonces              int

	feedRetry    *retry.Retry
	observations chan *settleapi.Observation
	feedLock     sync.Mutex
	feedRunning  bool
	feedDone     chan struct{}
}

func NewManager(ctx context.Context, conf *config.SettlementTxManagerConfig, p persistence.Persistence, store LedgerStore, m metrics.SettlementTxManagerMetrics) *Manager {
	defs := config.SettlementTxManagerDefaults
	mgr := &Manager{
		p:                       p,
		store:                   store,
		metrics:                 m,
		queryPageSize:           confutil.IntMin(conf.Manager.QueryPageSize, 1, *defs.Manager.QueryPageSize),
		gasPriceIncreasePercent: confutil.IntMin(conf.GasPrice.IncreasePercentage, 0, *defs.GasPrice.IncreasePercentage),
		baseFeeCap:              conf.GasPrice.MaxBaseFeePerGasCap,
		priorityFeeCap:          conf.GasPrice.MaxPriorityFeePerGasCap,
		blobBaseFeeCap:          conf.GasPrice.MaxBlobBaseFeePerGasCap,
		keepNonces:              confutil.IntMin(conf.Retention.KeepNonces, 0, *defs.Retention.KeepNonces),
		feedRetry:               retry.New(&conf.Manager.FeedRetry),
		observations:            make(chan *settleapi.Observation, confutil.IntMin(conf.Manager.FeedBufferSize, 0, *defs.Manager.FeedBufferSize)),
	}
	mgr.ctx, mgr.cancelCtx = context.WithCancel(log.WithLogField(ctx, "role", "settlement_tx_mgr"))
	return mgr
}
