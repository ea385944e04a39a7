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

package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

type SettlementTxManagerMetrics interface {
	IncCreatedTransactions(kind string)
	IncRecordedAttempts()
	IncFinalizedTransactions()
	IncFailedTransactions()
	IncUnknownObservations()
	AddReorgUnwoundAttempts(n int64)
}

var METRICS_SUBSYSTEM = "settlement_transaction_manager"

type settlementTxManagerMetrics struct {
	createdTransactions   *prometheus.CounterVec
	recordedAttempts      prometheus.Counter
	finalizedTransactions prometheus.Counter
	failedTransactions    prometheus.Counter
	unknownObservations   prometheus.Counter
	reorgUnwoundAttempts  prometheus.Counter
}

func InitMetrics(ctx context.Context, registry prometheus.Registerer) SettlementTxManagerMetrics {
	metrics := &settlementTxManagerMetrics{}

	metrics.createdTransactions = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "created_txns_total",
		Help: "Settlement transactions created, by operation kind", Subsystem: METRICS_SUBSYSTEM}, []string{"kind"})
	metrics.recordedAttempts = prometheus.NewCounter(prometheus.CounterOpts{Name: "recorded_attempts_total",
		Help: "Signed attempts recorded against settlement transactions", Subsystem: METRICS_SUBSYSTEM})
	metrics.finalizedTransactions = prometheus.NewCounter(prometheus.CounterOpts{Name: "finalized_txns_total",
		Help: "Settlement transactions that gained a canonical finalized attempt", Subsystem: METRICS_SUBSYSTEM})
	metrics.failedTransactions = prometheus.NewCounter(prometheus.CounterOpts{Name: "failed_txns_total",
		Help: "Settlement transactions marked as terminally failed", Subsystem: METRICS_SUBSYSTEM})
	metrics.unknownObservations = prometheus.NewCounter(prometheus.CounterOpts{Name: "unknown_observations_total",
		Help: "Chain observations for fingerprints not in the ledger", Subsystem: METRICS_SUBSYSTEM})
	metrics.reorgUnwoundAttempts = prometheus.NewCounter(prometheus.CounterOpts{Name: "reorg_unwound_attempts_total",
		Help: "Finalized attempts reverted to pending by reorgs", Subsystem: METRICS_SUBSYSTEM})

	registry.MustRegister(metrics.createdTransactions)
	registry.MustRegister(metrics.recordedAttempts)
	registry.MustRegister(metrics.finalizedTransactions)
	registry.MustRegister(metrics.failedTransactions)
	registry.MustRegister(metrics.unknownObservations)
	registry.MustRegister(metrics.reorgUnwoundAttempts)
	return metrics
}

func (m *settlementTxManagerMetrics) IncCreatedTransactions(kind string) {
	m.createdTransactions.WithLabelValues(kind).Inc()
}

func (m *settlementTxManagerMetrics) IncRecordedAttempts() {
	m.recordedAttempts.Inc()
}

func (m *settlementTxManagerMetrics) IncFinalizedTransactions() {
	m.finalizedTransactions.Inc()
}

func (m *settlementTxManagerMetrics) IncFailedTransactions() {
	m.failedTransactions.Inc()
}

func (m *settlementTxManagerMetrics) IncUnknownObservations() {
	m.unknownObservations.Inc()
}

func (m *settlementTxManagerMetrics) AddReorgUnwoundAttempts(n int64) {
	m.reorgUnwoundAttempts.Add(float64(n))
}
