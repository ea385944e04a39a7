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
	"time"

	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

const (
	tableTxs      = "settlement_txs"
	tableAttempts = "settlement_tx_attempts"
)

// settlement_txs
type SettlementTx struct {
	ID                 int64   `gorm:"column:id;primaryKey;autoIncrement"`
	Created            int64   `gorm:"column:created"`
	Kind               string  `gorm:"column:kind"`
	Payload            []byte  `gorm:"column:payload"`
	Nonce              uint64  `gorm:"column:nonce"`
	SigningAccount     string  `gorm:"column:signing_account"`
	Route              string  `gorm:"column:route"`
	SettlementChainID  *uint64 `gorm:"column:settlement_chain_id"`
	ConfirmedAttemptID *int64  `gorm:"column:confirmed_attempt_id"`
	Failed             bool    `gorm:"column:failed"`
	PredictedGasCost   *uint64 `gorm:"column:predicted_gas_cost"`
}

func (SettlementTx) TableName() string {
	return tableTxs
}

// settlement_tx_attempts
type SettlementTxAttempt struct {
	ID                    int64   `gorm:"column:id;primaryKey;autoIncrement"`
	SettlementTxID        int64   `gorm:"column:settlement_tx_id"`
	Created               int64   `gorm:"column:created"`
	Fingerprint           string  `gorm:"column:fingerprint"`
	BaseFeePerGas         uint64  `gorm:"column:base_fee_per_gas"`
	PriorityFeePerGas     uint64  `gorm:"column:priority_fee_per_gas"`
	BlobBaseFeePerGas     *uint64 `gorm:"column:blob_base_fee_per_gas"`
	MaxGasPerPubdata      *uint64 `gorm:"column:max_gas_per_pubdata"`
	GasLimit              *uint64 `gorm:"column:gas_limit"`
	SignedPayload         []byte  `gorm:"column:signed_payload"`
	ObservedAtBlock       *uint64 `gorm:"column:observed_at_block"`
	SubmittedSuccessfully bool    `gorm:"column:submitted_successfully"`
	FinalityStatus        string  `gorm:"column:finality_status"`
	ConfirmedAt           *int64  `gorm:"column:confirmed_at"`
	GasUsed               *uint64 `gorm:"column:gas_used"`
}

func (SettlementTxAttempt) TableName() string {
	return tableAttempts
}

func MapDBToLogicalTx(dbTx *SettlementTx) *settleapi.LogicalTx {
	if dbTx == nil {
		return nil
	}
	return &settleapi.LogicalTx{
		ID:                 dbTx.ID,
		Created:            time.Unix(0, dbTx.Created),
		Kind:               settleapi.OperationKind(dbTx.Kind),
		Payload:            dbTx.Payload,
		Nonce:              dbTx.Nonce,
		SigningAccount:     *ethtypes.MustNewAddress(dbTx.SigningAccount),
		Route:              settleapi.SettlementRoute(dbTx.Route),
		SettlementChainID:  dbTx.SettlementChainID,
		ConfirmedAttemptID: dbTx.ConfirmedAttemptID,
		Failed:             dbTx.Failed,
		PredictedGasCost:   dbTx.PredictedGasCost,
	}
}

func MapDBToLogicalTxs(dbTxs []*SettlementTx) []*settleapi.LogicalTx {
	txs := make([]*settleapi.LogicalTx, len(dbTxs))
	for i, dbTx := range dbTxs {
		txs[i] = MapDBToLogicalTx(dbTx)
	}
	return txs
}

func MapLogicalTxToDB(tx *settleapi.LogicalTx) *SettlementTx {
	return &SettlementTx{
		ID:                 tx.ID,
		Created:            tx.Created.UnixNano(),
		Kind:               string(tx.Kind),
		Payload:            tx.Payload,
		Nonce:              tx.Nonce,
		SigningAccount:     tx.SigningAccount.String(),
		Route:              string(tx.Route),
		SettlementChainID:  tx.SettlementChainID,
		ConfirmedAttemptID: tx.ConfirmedAttemptID,
		Failed:             tx.Failed,
		PredictedGasCost:   tx.PredictedGasCost,
	}
}

func MapDBToAttempt(dbAttempt *SettlementTxAttempt) *settleapi.Attempt {
	if dbAttempt == nil {
		return nil
	}
	a := &settleapi.Attempt{
		ID:          dbAttempt.ID,
		LogicalTxID: dbAttempt.SettlementTxID,
		Created:     time.Unix(0, dbAttempt.Created),
		Fees: settleapi.FeeParameters{
			BaseFeePerGas:     dbAttempt.BaseFeePerGas,
			PriorityFeePerGas: dbAttempt.PriorityFeePerGas,
			BlobBaseFeePerGas: dbAttempt.BlobBaseFeePerGas,
			MaxGasPerPubdata:  dbAttempt.MaxGasPerPubdata,
			GasLimit:          dbAttempt.GasLimit,
		},
		SignedPayload:         dbAttempt.SignedPayload,
		Fingerprint:           ethtypes.MustNewHexBytes0xPrefix(dbAttempt.Fingerprint),
		ObservedAtBlock:       dbAttempt.ObservedAtBlock,
		SubmittedSuccessfully: dbAttempt.SubmittedSuccessfully,
		FinalityStatus:        settleapi.FinalityStatus(dbAttempt.FinalityStatus),
		GasUsed:               dbAttempt.GasUsed,
	}
	if dbAttempt.ConfirmedAt != nil {
		confirmedAt := time.Unix(0, *dbAttempt.ConfirmedAt)
		a.ConfirmedAt = &confirmedAt
	}
	return a
}

func MapDBToAttempts(dbAttempts []*SettlementTxAttempt) []*settleapi.Attempt {
	attempts := make([]*settleapi.Attempt, len(dbAttempts))
	for i, dbAttempt := range dbAttempts {
		attempts[i] = MapDBToAttempt(dbAttempt)
	}
	return attempts
}

func MapAttemptToDB(a *settleapi.Attempt) *SettlementTxAttempt {
	dbAttempt := &SettlementTxAttempt{
		ID:                    a.ID,
		SettlementTxID:        a.LogicalTxID,
		Created:               a.Created.UnixNano(),
		Fingerprint:           a.Fingerprint.String(),
		BaseFeePerGas:         a.Fees.BaseFeePerGas,
		PriorityFeePerGas:     a.Fees.PriorityFeePerGas,
		BlobBaseFeePerGas:     a.Fees.BlobBaseFeePerGas,
		MaxGasPerPubdata:      a.Fees.MaxGasPerPubdata,
		GasLimit:              a.Fees.GasLimit,
		SignedPayload:         a.SignedPayload,
		ObservedAtBlock:       a.ObservedAtBlock,
		SubmittedSuccessfully: a.SubmittedSuccessfully,
		FinalityStatus:        string(a.FinalityStatus),
		GasUsed:               a.GasUsed,
	}
	if a.ConfirmedAt != nil {
		confirmedAt := a.ConfirmedAt.UnixNano()
		dbAttempt.ConfirmedAt = &confirmedAt
	}
	return dbAttempt
}
