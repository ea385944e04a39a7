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

package config

import (
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/retry"
)

type SettlementTxManagerConfig struct {
	Manager   SettlementManagerConfig `json:"manager"`
	GasPrice  GasPriceConfig          `json:"gasPrice"`
	Retention RetentionConfig         `json:"retention"`
}

type SettlementManagerConfig struct {
	QueryPageSize  *int         `json:"queryPageSize"`  // rows fetched per page when walking the unconfirmed queue
	FeedBufferSize *int         `json:"feedBufferSize"` // observations queued before QueueObservation blocks
	FeedRetry      retry.Config `json:"feedRetry"`
}

type GasPriceConfig struct {
	IncreasePercentage      *int    `json:"increasePercentage"`
	MaxBaseFeePerGasCap     *uint64 `json:"maxBaseFeePerGasCap"`
	MaxPriorityFeePerGasCap *uint64 `json:"maxPriorityFeePerGasCap"`
	MaxBlobBaseFeePerGasCap *uint64 `json:"maxBlobBaseFeePerGasCap"`
}

type RetentionConfig struct {
	KeepNonces *int `json:"keepNonces"`
}

var SettlementTxManagerDefaults = &SettlementTxManagerConfig{
	Manager: SettlementManagerConfig{
		QueryPageSize:  confutil.P(100),
		FeedBufferSize: confutil.P(100),
		FeedRetry: retry.Config{
			InitialDelay: confutil.P("250ms"),
			MaxDelay:     confutil.P("30s"),
			Factor:       confutil.P(2.0),
			MaxAttempts:  confutil.P(0),
		},
	},
	GasPrice: GasPriceConfig{
		// most clients reject a replacement transaction below a 10% bump
		IncreasePercentage: confutil.P(10),
	},
	Retention: RetentionConfig{
		KeepNonces: confutil.P(1000),
	},
}
