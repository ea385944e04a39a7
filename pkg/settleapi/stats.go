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

type OldestUnfinalized struct {
	ChainID *uint64    `json:"chainId,omitempty"`
	Tx      *LogicalTx `json:"tx"`
}

type OperationStat struct {
	Kind                  OperationKind `json:"kind"`
	Total                 int64         `json:"total"`
	Confirmed             int64         `json:"confirmed"`
	Failed                int64         `json:"failed"`
	HighestConfirmedNonce *uint64       `json:"highestConfirmedNonce,omitempty"`
}

type BlockRange struct {
	First uint64 `json:"first"`
	Last  uint64 `json:"last"`
}

// FeeMarket is the current fee estimate from the settlement chain
type FeeMarket struct {
	BaseFeePerGas     uint64  `json:"baseFeePerGas"`
	PriorityFeePerGas uint64  `json:"priorityFeePerGas"`
	BlobBaseFeePerGas *uint64 `json:"blobBaseFeePerGas,omitempty"`
}
