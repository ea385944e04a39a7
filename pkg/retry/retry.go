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

package retry

import (
	"context"
	"time"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/log"
)

type Config struct {
	InitialDelay *string  `json:"initialDelay"`
	MaxDelay     *string  `json:"maxDelay"`
	Factor       *float64 `json:"factor"`
	MaxAttempts  *int     `json:"maxAttempts"` // zero means retry until the context is done
}

var Defaults = &Config{
	InitialDelay: confutil.P("250ms"),
	MaxDelay:     confutil.P("30s"),
	Factor:       confutil.P(2.0),
	MaxAttempts:  confutil.P(0),
}

type Retry struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	factor       float64
	maxAttempts  int
}

func New(conf *Config) *Retry {
	return &Retry{
		initialDelay: confutil.DurationMin(conf.InitialDelay, 0, *Defaults.InitialDelay),
		maxDelay:     confutil.DurationMin(conf.MaxDelay, 0, *Defaults.MaxDelay),
		factor:       confutil.Float64Min(conf.Factor, 1.0, *Defaults.Factor),
		maxAttempts:  confutil.IntMin(conf.MaxAttempts, 0, *Defaults.MaxAttempts),
	}
}

// Do calls fn until it succeeds, reports the error as not retryable, the
// attempts are exhausted, or the context is cancelled.
func (r *Retry) Do(ctx context.Context, fn func(attempt int) (retryable bool, err error)) error {
	for attempt := 1; ; attempt++ {
		retryable, err := fn(attempt)
		if err == nil {
			return nil
		}
		log.L(ctx).Errorf("%s (attempt=%d)", err, attempt)
		if !retryable || (r.maxAttempts > 0 && attempt >= r.maxAttempts) {
			return err
		}
		if err := r.WaitDelay(ctx, attempt); err != nil {
			return err
		}
	}
}

func (r *Retry) delayFor(failureCount int) time.Duration {
	delay := r.initialDelay
	for i := 1; i < failureCount; i++ {
		delay = time.Duration(float64(delay) * r.factor)
		if delay > r.maxDelay {
			return r.maxDelay
		}
	}
	return delay
}

func (r *Retry) WaitDelay(ctx context.Context, failureCount int) error {
	if failureCount <= 0 {
		return nil
	}
	delay := r.delayFor(failureCount)
	log.L(ctx).Debugf("Retrying after %.2fs (failures=%d)", delay.Seconds(), failureCount)
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}
