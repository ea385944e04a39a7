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
	"math"
	"math/big"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// NextFeeParameters returns the fees for a replacement attempt of the transaction. Each fee is at least
// the configured percentage above the newest recorded attempt, raised to the market estimate when that is
// higher, then capped. The first attempt of a transaction takes the market estimate as is.
func (m *Manager) NextFeeParameters(ctx context.Context, logicalTxID int64, market *settleapi.FeeMarket) (*settleapi.FeeParameters, error) {
	tx, err := m.store.GetLogicalTx(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}
	if tx == nil {
		return nil, i18n.NewError(ctx, msgs.MsgLogicalTxNotFound, logicalTxID)
	}
	attempts, err := m.store.ListAttempts(ctx, m.p.NOTX(), logicalTxID)
	if err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgLedgerReadFailed)
	}

	var fees *settleapi.FeeParameters
	switch {
	case len(attempts) > 0:
		previous := ledgerstore.MapDBToAttempt(attempts[0]).Fees
		fees = m.calculateNewFees(&previous, market)
	case market != nil:
		fees = &settleapi.FeeParameters{
			BaseFeePerGas:     market.BaseFeePerGas,
			PriorityFeePerGas: market.PriorityFeePerGas,
			BlobBaseFeePerGas: market.BlobBaseFeePerGas,
		}
	default:
		return nil, i18n.NewError(ctx, msgs.MsgNoAttemptsForLogicalTx, logicalTxID)
	}
	return m.capFees(ctx, fees), nil
}

// increaseByPercentage multiplies by (100+percentage)/100, rounding the division up
// so the increase is never less than the percentage
func increaseByPercentage(value uint64, percentage int) uint64 {
	increased := new(big.Int).Mul(new(big.Int).SetUint64(value), big.NewInt(int64(100+percentage)))
	increased.Add(increased, big.NewInt(99))
	increased.Div(increased, big.NewInt(100))
	if !increased.IsUint64() {
		return math.MaxUint64
	}
	return increased.Uint64()
}

func (m *Manager) calculateNewFees(previous *settleapi.FeeParameters, market *settleapi.FeeMarket) *settleapi.FeeParameters {
	fees := &settleapi.FeeParameters{
		BaseFeePerGas:     increaseByPercentage(previous.BaseFeePerGas, m.gasPriceIncreasePercent),
		PriorityFeePerGas: increaseByPercentage(previous.PriorityFeePerGas, m.gasPriceIncreasePercent),
		MaxGasPerPubdata:  previous.MaxGasPerPubdata,
		GasLimit:          previous.GasLimit,
	}
	if previous.BlobBaseFeePerGas != nil {
		blob := increaseByPercentage(*previous.BlobBaseFeePerGas, m.gasPriceIncreasePercent)
		fees.BlobBaseFeePerGas = &blob
	}
	if market == nil {
		return fees
	}
	fees.BaseFeePerGas = max(fees.BaseFeePerGas, market.BaseFeePerGas)
	fees.PriorityFeePerGas = max(fees.PriorityFeePerGas, market.PriorityFeePerGas)
	if market.BlobBaseFeePerGas != nil && (fees.BlobBaseFeePerGas == nil || *market.BlobBaseFeePerGas > *fees.BlobBaseFeePerGas) {
		blob := *market.BlobBaseFeePerGas
		fees.BlobBaseFeePerGas = &blob
	}
	return fees
}

func (m *Manager) capFees(ctx context.Context, fees *settleapi.FeeParameters) *settleapi.FeeParameters {
	if m.baseFeeCap != nil && fees.BaseFeePerGas > *m.baseFeeCap {
		log.L(ctx).Warnf("Capping BaseFeePerGas to %d", *m.baseFeeCap)
		fees.BaseFeePerGas = *m.baseFeeCap
	}
	if m.priorityFeeCap != nil && fees.PriorityFeePerGas > *m.priorityFeeCap {
		log.L(ctx).Warnf("Capping PriorityFeePerGas to %d", *m.priorityFeeCap)
		fees.PriorityFeePerGas = *m.priorityFeeCap
	}
	if m.blobBaseFeeCap != nil && fees.BlobBaseFeePerGas != nil && *fees.BlobBaseFeePerGas > *m.blobBaseFeeCap {
		log.L(ctx).Warnf("Capping BlobBaseFeePerGas to %d", *m.blobBaseFeeCap)
		blob := *m.blobBaseFeeCap
		fees.BlobBaseFeePerGas = &blob
	}
	return fees
}
