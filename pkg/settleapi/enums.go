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

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/msgs"
)

// OperationKind is the settlement operation a logical transaction carries
type OperationKind string

const (
	OperationCommit       OperationKind = "commit"
	OperationProveOnchain OperationKind = "prove_onchain"
	OperationExecute      OperationKind = "execute"
	OperationPrecommit    OperationKind = "precommit"
)

func OperationKinds() []OperationKind {
	return []OperationKind{OperationCommit, OperationProveOnchain, OperationExecute, OperationPrecommit}
}

func (k OperationKind) Validate(ctx context.Context) error {
	switch k {
	case OperationCommit, OperationProveOnchain, OperationExecute, OperationPrecommit:
		return nil
	default:
		return i18n.NewError(ctx, msgs.MsgInvalidOperationKind, k)
	}
}

// SettlementRoute is how a transaction reaches the settlement layer. Each route
// has its own nonce sequence per signing account.
type SettlementRoute string

const (
	RouteDirect  SettlementRoute = "direct"
	RouteGateway SettlementRoute = "gateway"
)

func SettlementRoutes() []SettlementRoute {
	return []SettlementRoute{RouteDirect, RouteGateway}
}

func (r SettlementRoute) Validate(ctx context.Context) error {
	switch r {
	case RouteDirect, RouteGateway:
		return nil
	default:
		return i18n.NewError(ctx, msgs.MsgInvalidSettlementRoute, r)
	}
}

type FinalityStatus string

const (
	FinalityPending   FinalityStatus = "pending"
	FinalityFinalized FinalityStatus = "finalized"
)

func (s FinalityStatus) Validate(ctx context.Context) error {
	switch s {
	case FinalityPending, FinalityFinalized:
		return nil
	default:
		return i18n.NewError(ctx, msgs.MsgInvalidFinalityStatus, s)
	}
}

type ObservationType string

const (
	ObservationBlockIncluded ObservationType = "block_included"
	ObservationFinalized     ObservationType = "finalized"
	ObservationReorg         ObservationType = "reorg"
)
