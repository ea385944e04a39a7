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

package main

import (
	"context"
	"sync"

	"github.com/fatih/color"
	"github.com/hyperledger/firefly-signer/pkg/ethtypes"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr/metrics"
	"github.com/rollup-settlement/ethsender/pkg/config"
	"github.com/rollup-settlement/ethsender/pkg/confutil"
	"github.com/rollup-settlement/ethsender/pkg/log"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/spf13/cobra"
)

var (
	defaultMetricsOnce sync.Once
	defaultMgrMetrics  metrics.SettlementTxManagerMetrics
)

// defaultMetrics registers against the default registry once per process. The commands exit
// when done, so the counters are only read by a process that embeds the root command and
// serves or pushes the default gatherer.
func defaultMetrics(ctx context.Context) metrics.SettlementTxManagerMetrics {
	defaultMetricsOnce.Do(func() {
		defaultMgrMetrics = metrics.InitMetrics(ctx, prometheus.DefaultRegisterer)
	})
	return defaultMgrMetrics
}

type rootOptions struct {
	configFile string
	jsonMode   bool
	noColor    bool
	conf       *config.EthSenderConfig
}

type namespaceOptions struct {
	account string
	route   string
}

func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "ethsender",
		Short: "Operator tool for the settlement transaction ledger",
		Long: `ethsender inspects and maintains the ledger of settlement transactions
and their signed attempts.

Examples:
  # Apply the database migrations
  ethsender migrate -c ethsender.yaml

  # Show what is still in flight
  ethsender stats -c ethsender.yaml

  # Revert finality after a reorg on the settlement chain
  ethsender reorg -c ethsender.yaml --account 0x... --route direct --from-nonce 1200`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadConfig(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "ethsender.yaml", "Path to the YAML config file")
	cmd.PersistentFlags().BoolVar(&opts.jsonMode, "json", false, "Output in JSON format")
	cmd.PersistentFlags().BoolVar(&opts.noColor, "no-color", false, "Disable colored output")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newStatsCmd(opts),
		newUnconfirmedCmd(opts),
		newReorgCmd(opts),
		newClearFailedCmd(opts),
		newPruneCmd(opts),
	)
	return cmd
}

func (opts *rootOptions) loadConfig(ctx context.Context) error {
	if opts.noColor {
		color.NoColor = true
	}
	conf := &config.EthSenderConfig{}
	if err := config.ReadAndParseYAMLFile(ctx, opts.configFile, conf); err != nil {
		return err
	}
	log.InitConfig(&conf.Log)
	opts.conf = conf
	return nil
}

func (opts *rootOptions) withPersistence(ctx context.Context, fn func(p persistence.Persistence) error) error {
	p, err := persistence.NewPersistence(ctx, &opts.conf.DB)
	if err != nil {
		return err
	}
	defer p.Close()
	return fn(p)
}

func (opts *rootOptions) withManager(ctx context.Context, fn func(m *settletxmgr.Manager) error) error {
	return opts.withPersistence(ctx, func(p persistence.Persistence) error {
		var mgrMetrics metrics.SettlementTxManagerMetrics
		if confutil.Bool(opts.conf.Metrics.Enabled, *config.MetricsDefaults.Enabled) {
			mgrMetrics = defaultMetrics(ctx)
		} else {
			mgrMetrics = metrics.InitMetrics(ctx, prometheus.NewRegistry())
		}
		m := settletxmgr.NewManager(ctx, &opts.conf.SettlementManager, p, ledgerstore.New(), mgrMetrics)
		defer m.Stop()
		return fn(m)
	})
}

func (nsOpts *namespaceOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&nsOpts.account, "account", "", "Signing account address")
	cmd.Flags().StringVar(&nsOpts.route, "route", string(settleapi.RouteDirect), "Settlement route (direct or gateway)")
	_ = cmd.MarkFlagRequired("account")
}

func (nsOpts *namespaceOptions) namespace(ctx context.Context) (*settleapi.Namespace, error) {
	account, err := ethtypes.NewAddress(nsOpts.account)
	if err != nil {
		return nil, err
	}
	ns := &settleapi.Namespace{SigningAccount: *account, Route: settleapi.SettlementRoute(nsOpts.route)}
	if err := ns.Validate(ctx); err != nil {
		return nil, err
	}
	return ns, nil
}
