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
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/rollup-settlement/ethsender/internal/msgs"
)

type BlockIncluded struct {
	Fingerprint ethtypes.HexBytes0xPrefix `json:"fingerprint"`
	BlockNumber uint64                    `json:"blockNumber"`
}

type Finalized struct {
	Fingerprint ethtypes.HexBytes0xPrefix `json:"fingerprint"`
	GasUsed     uint64                    `json:"gasUsed"`
	BlockNumber *uint64                   `json:"blockNumber,omitempty"`
	ChainID     *uint64                   `json:"chainId,omitempty"`
	ConfirmedAt *time.Time                `json:"confirmedAt,omitempty"` // block time, defaults to when the observation is applied
}

type Reorg struct {
	Namespace Namespace `json:"namespace"`
	FromNonce uint64    `json:"fromNonce"` // inclusive
}

// Observation is one event from the chain observation feed. Exactly one of the
// payload fields is set, matching Type.
type Observation struct {
	Type          ObservationType `json:"type"`
	BlockIncluded *BlockIncluded  `json:"blockIncluded,omitempty"`
	Finalized     *Finalized      `json:"finalized,omitempty"`
	Reorg         *Reorg          `json:"reorg,omitempty"`
}

func (o *Observation) Validate(ctx context.Context) error {
	switch o.Type {
	case ObservationBlockIncluded:
		if o.BlockIncluded == nil || len(o.BlockIncluded.Fingerprint) == 0 {
			return i18n.NewError(ctx, msgs.MsgInvalidObservation, o.Type)
		}
	case ObservationFinalized:
		if o.Finalized == nil || len(o.Finalized.Fingerprint) == 0 {
			return i18n.NewError(ctx, msgs.MsgInvalidObservation, o.Type)
		}
	case ObservationReorg:
		if o.Reorg == nil {
			return i18n.NewError(ctx, msgs.MsgInvalidObservation, o.Type)
		}
		return o.Reorg.Namespace.Validate(ctx)
	default:
		return i18n.NewError(ctx, msgs.MsgInvalidObservation, o.Type)
	}
	return nil
}
