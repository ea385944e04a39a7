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

	"github.com/google/uuid"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
)

// Start runs the observation feed loop, which applies queued chain observations in arrival order
func (m *Manager) Start() error {
	m.feedLock.Lock()
	defer m.feedLock.Unlock()
	if !m.feedRunning { // only start once
		m.feedRunning = true
		m.feedDone = make(chan struct{})
		log.L(m.ctx).Debugf("Kicking off chain observation feed loop")
		go m.feedLoop()
	}
	log.L(m.ctx).Infof("Started settlement transaction manager")
	return nil
}

// Stop ends the feed loop. Observations still queued are dropped, the chain feed replays them.
func (m *Manager) Stop() {
	m.cancelCtx()
	m.feedLock.Lock()
	running, done := m.feedRunning, m.feedDone
	m.feedLock.Unlock()
	if running {
		<-done
	}
}

// QueueObservation hands an observation to the feed loop, blocking while the queue is full
func (m *Manager) QueueObservation(ctx context.Context, obs *settleapi.Observation) error {
	if err := obs.Validate(ctx); err != nil {
		return err
	}
	m.feedLock.Lock()
	running := m.feedRunning
	m.feedLock.Unlock()
	if !running || m.ctx.Err() != nil {
		return i18n.NewError(ctx, msgs.MsgFeedNotRunning)
	}
	select {
	case m.observations <- obs:
		return nil
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	case <-m.ctx.Done():
		return i18n.NewError(ctx, msgs.MsgFeedNotRunning)
	}
}

func (m *Manager) feedLoop() {
	defer close(m.feedDone)
	for {
		select {
		case <-m.ctx.Done():
			log.L(m.ctx).Debugf("Chain observation feed loop exiting")
			return
		case obs := <-m.observations:
			m.processObservation(obs)
		}
	}
}

func (m *Manager) processObservation(obs *settleapi.Observation) {
	ctx := log.WithLogField(m.ctx, "observation", uuid.New().String()[0:8])
	err := m.feedRetry.Do(ctx, func(attempt int) (retryable bool, err error) {
		err = m.ApplyObservation(ctx, obs)
		return err != nil && !isPermanent(err), err
	})
	if err != nil {
		log.L(ctx).Errorf("Skipping %s observation: %s", obs.Type, err)
	}
}

// isPermanent is true for errors that applying the same observation again cannot fix
func isPermanent(err error) bool {
	for _, key := range []i18n.ErrorMessageKey{
		msgs.MsgInvariantViolation,
		msgs.MsgInvalidObservation,
		msgs.MsgInvalidSigningAccount,
		msgs.MsgInvalidSettlementRoute,
		msgs.MsgSettlementChainConflict,
		msgs.MsgLogicalTxNotFound,
		msgs.MsgContextCanceled,
	} {
		if msgs.Is(err, key) {
			return true
		}
	}
	return false
}

// ApplyObservation applies one chain observation synchronously
func (m *Manager) ApplyObservation(ctx context.Context, obs *settleapi.Observation) error {
	if err := obs.Validate(ctx); err != nil {
		return err
	}
	switch obs.Type {
	case settleapi.ObservationBlockIncluded:
		return m.OnBlockIncluded(ctx, obs.BlockIncluded)
	case settleapi.ObservationFinalized:
		return m.OnFinalized(ctx, obs.Finalized)
	case settleapi.ObservationReorg:
		return m.OnReorg(ctx, obs.Reorg)
	default:
		return i18n.NewError(ctx, msgs.MsgInvalidObservation, obs.Type)
	}
}
