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

package settleapi

import (
	"context"
	"fmt"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"golang.org/x/crypto/sha3"
)

// Namespace is the unit of nonce allocation
type Namespace struct {
	SigningAccount ethtypes.Address0xHex `json:"signingAccount"`
	Route          SettlementRoute       `json:"route"`
}

func (ns Namespace) String() string {
	return fmt.Sprintf("%s/%s", ns.SigningAccount, ns.Route)
}

func (ns Namespace) Validate(ctx context.Context) error {
	if ns.SigningAccount == (ethtypes.Address0xHex{}) {
		return i18n.NewError(ctx, msgs.MsgInvalidSigningAccount, ns.SigningAccount)
	}
	return ns.Route.Validate(ctx)
}

type FeeParameters struct {
	BaseFeePerGas     uint64  `json:"baseFeePerGas"`
	PriorityFeePerGas uint64  `json:"priorityFeePerGas"`
	BlobBaseFeePerGas *uint64 `json:"blobBaseFeePerGas,omitempty"`
	MaxGasPerPubdata  *uint64 `json:"maxGasPerPubdata,omitempty"`
	GasLimit          *uint64 `json:"gasLimit,omitempty"`
}

func (f *FeeParameters) Validate(ctx context.Context) error {
	if f.GasLimit != nil && *f.GasLimit == 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidFeeParameters, "gasLimit must be greater than zero")
	}
	if f.MaxGasPerPubdata != nil && *f.MaxGasPerPubdata == 0 {
		return i18n.NewError(ctx, msgs.MsgInvalidFeeParameters, "maxGasPerPubdata must be greater than zero")
	}
	return nil
}

func (f *FeeParameters) Equal(o *FeeParameters) bool {
	return f.BaseFeePerGas == o.BaseFeePerGas &&
		f.PriorityFeePerGas == o.PriorityFeePerGas &&
		equalOptional(f.BlobBaseFeePerGas, o.BlobBaseFeePerGas) &&
		equalOptional(f.MaxGasPerPubdata, o.MaxGasPerPubdata) &&
		equalOptional(f.GasLimit, o.GasLimit)
}

func equalOptional(a, b *uint64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// LogicalTx is one settlement operation, however many times it gets signed and resent.
// The nonce is fixed at creation.
type LogicalTx struct {
	ID                 int64                     `json:"id"`
	Created            time.Time                 `json:"created"`
	Kind               OperationKind             `json:"kind"`
	Payload            ethtypes.HexBytes0xPrefix `json:"payload"`
	Nonce              uint64                    `json:"nonce"`
	SigningAccount     ethtypes.Address0xHex     `json:"signingAccount"`
	Route              SettlementRoute           `json:"route"`
	SettlementChainID  *uint64                   `json:"settlementChainId,omitempty"`
	ConfirmedAttemptID *int64                    `json:"confirmedAttemptId,omitempty"`
	Failed             bool                      `json:"failed"`
	PredictedGasCost   *uint64                   `json:"predictedGasCost,omitempty"`
}

func (tx *LogicalTx) Namespace() Namespace {
	return Namespace{SigningAccount: tx.SigningAccount, Route: tx.Route}
}

// Attempt is a single signed submission of a LogicalTx
type Attempt struct {
	ID                    int64                     `json:"id"`
	LogicalTxID           int64                     `json:"logicalTxId"`
	Created               time.Time                 `json:"created"`
	Fees                  FeeParameters             `json:"fees"`
	SignedPayload         ethtypes.HexBytes0xPrefix `json:"signedPayload"`
	Fingerprint           ethtypes.HexBytes0xPrefix `json:"fingerprint"`
	ObservedAtBlock       *uint64                   `json:"observedAtBlock,omitempty"`
	SubmittedSuccessfully bool                      `json:"submittedSuccessfully"`
	FinalityStatus        FinalityStatus            `json:"finalityStatus"`
	ConfirmedAt           *time.Time                `json:"confirmedAt,omitempty"`
	GasUsed               *uint64                   `json:"gasUsed,omitempty"`
}

// Fingerprint is the keccak256 hash of the signed bytes, which for a signed
// Ethereum transaction is its transaction hash
func Fingerprint(signedPayload []byte) ethtypes.HexBytes0xPrefix {
	h := sha3.NewLegacyKeccak256()
	h.Write(signedPayload)
	return h.Sum(nil)
}

type NewLogicalTx struct {
	Kind             OperationKind             `json:"kind"`
	Payload          ethtypes.HexBytes0xPrefix `json:"payload"`
	Namespace        Namespace                 `json:"namespace"`
	PredictedGasCost *uint64                   `json:"predictedGasCost,omitempty"`
}

func (n *NewLogicalTx) Validate(ctx context.Context) error {
	if err := n.Kind.Validate(ctx); err != nil {
		return err
	}
	if len(n.Payload) == 0 {
		return i18n.NewError(ctx, msgs.MsgEmptyPayload)
	}
	return n.Namespace.Validate(ctx)
}

type NewAttempt struct {
	LogicalTxID     int64                     `json:"logicalTxId"`
	Fees            FeeParameters             `json:"fees"`
	SignedPayload   ethtypes.HexBytes0xPrefix `json:"signedPayload"`
	ObservedAtBlock *uint64                   `json:"observedAtBlock,omitempty"`
}

func (n *NewAttempt) Validate(ctx context.Context) error {
	if len(n.SignedPayload) == 0 {
		return i18n.NewError(ctx, msgs.MsgEmptyPayload)
	}
	return n.Fees.Validate(ctx)
}
