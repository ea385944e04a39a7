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
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/rollup-settlement/ethsender/internal/msgs"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withPersistence(ctx, func(p persistence.Persistence) error {
				if err := persistence.Migrate(ctx, p); err != nil {
					return err
				}
				return opts.printResult(cmd, map[string]any{"migrated": true}, func(out *printer) {
					out.success("Database migrated")
				})
			})
		},
	}
}

type statsResult struct {
	InFlight          map[settleapi.SettlementRoute]int64 `json:"inFlight"`
	Unconfirmed       int64                               `json:"unconfirmed"`
	Failed            int64                               `json:"failed"`
	OldestUnfinalized *settleapi.OldestUnfinalized        `json:"oldestUnfinalized,omitempty"`
	Operations        []*settleapi.OperationStat          `json:"operations"`
	InvariantsHold    *bool                               `json:"invariantsHold,omitempty"`
}

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var checkInvariants bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show in-flight, failed and per-operation counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			return opts.withManager(ctx, func(m *settletxmgr.Manager) (err error) {
				res := &statsResult{}
				if res.InFlight, err = m.InFlightCounts(ctx); err != nil {
					return err
				}
				if res.Unconfirmed, err = m.UnconfirmedCount(ctx); err != nil {
					return err
				}
				if res.Failed, err = m.FailedCount(ctx); err != nil {
					return err
				}
				if res.OldestUnfinalized, err = m.OldestUnfinalizedAcrossAllAccounts(ctx); err != nil {
					return err
				}
				if res.Operations, err = m.OperationStats(ctx); err != nil {
					return err
				}
				if checkInvariants {
					hold := m.CheckInvariants(ctx) == nil
					res.InvariantsHold = &hold
				}
				return opts.printResult(cmd, res, func(out *printer) { out.stats(res) })
			})
		},
	}
	cmd.Flags().BoolVar(&checkInvariants, "check", false, "Also scan the ledger for broken canonical attempt links")
	return cmd
}

func newUnconfirmedCmd(opts *rootOptions) *cobra.Command {
	nsOpts := &namespaceOptions{}
	var limit int
	cmd := &cobra.Command{
		Use:   "unconfirmed",
		Short: "List the unconfirmed transactions of a namespace, in nonce order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ns, err := nsOpts.namespace(ctx)
			if err != nil {
				return err
			}
			return opts.withManager(ctx, func(m *settletxmgr.Manager) error {
				txs, err := m.ListNextUnconfirmed(ctx, ns, limit)
				if err != nil {
					return err
				}
				return opts.printResult(cmd, txs, func(out *printer) { out.transactions(ns, txs) })
			})
		},
	}
	nsOpts.addFlags(cmd)
	cmd.Flags().IntVar(&limit, "limit", 100, "Maximum transactions to list")
	return cmd
}

func newReorgCmd(opts *rootOptions) *cobra.Command {
	nsOpts := &namespaceOptions{}
	var fromNonce uint64
	cmd := &cobra.Command{
		Use:   "reorg",
		Short: "Revert finality of a namespace from a nonce upwards",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ns, err := nsOpts.namespace(ctx)
			if err != nil {
				return err
			}
			return opts.withManager(ctx, func(m *settletxmgr.Manager) error {
				unwound, err := m.UnfinalizeFrom(ctx, ns, fromNonce)
				if err != nil {
					return err
				}
				return opts.printResult(cmd, map[string]int64{"unwoundAttempts": unwound}, func(out *printer) {
					out.warn("Reverted %d finalized attempts of %s from nonce %d", unwound, ns, fromNonce)
				})
			})
		},
	}
	nsOpts.addFlags(cmd)
	cmd.Flags().Uint64Var(&fromNonce, "from-nonce", 0, "First nonce to revert")
	_ = cmd.MarkFlagRequired("from-nonce")
	return cmd
}

func newClearFailedCmd(opts *rootOptions) *cobra.Command {
	nsOpts := &namespaceOptions{}
	var confirm bool
	cmd := &cobra.Command{
		Use:   "clear-failed",
		Short: "Delete every transaction from the lowest failed nonce upwards",
		Long: `Delete every transaction of the namespace from the lowest failed nonce upwards,
with all of their attempts. The deleted nonces are allocated again, so only run this
once none of those transactions can land on the settlement chain.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ns, err := nsOpts.namespace(ctx)
			if err != nil {
				return err
			}
			if !confirm {
				return i18n.NewError(ctx, msgs.MsgConfirmationRequired)
			}
			return opts.withManager(ctx, func(m *settletxmgr.Manager) error {
				deleted, err := m.ClearFailed(ctx, ns)
				if err != nil {
					return err
				}
				return opts.printResult(cmd, map[string]int64{"deleted": deleted}, func(out *printer) {
					out.warn("Deleted %d transactions of %s", deleted, ns)
				})
			})
		},
	}
	nsOpts.addFlags(cmd)
	cmd.Flags().BoolVar(&confirm, "yes", false, "Confirm the deletion")
	return cmd
}

func newPruneCmd(opts *rootOptions) *cobra.Command {
	nsOpts := &namespaceOptions{}
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete confirmed transactions far below the highest confirmed nonce",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			ns, err := nsOpts.namespace(ctx)
			if err != nil {
				return err
			}
			return opts.withManager(ctx, func(m *settletxmgr.Manager) (err error) {
				var deleted int64
				if cmd.Flags().Changed("keep") {
					deleted, err = m.Prune(ctx, ns, keep)
				} else {
					deleted, err = m.PruneDefault(ctx, ns)
				}
				if err != nil {
					return err
				}
				return opts.printResult(cmd, map[string]int64{"deleted": deleted}, func(out *printer) {
					out.success("Pruned %d confirmed transactions of %s", deleted, ns)
				})
			})
		},
	}
	nsOpts.addFlags(cmd)
	cmd.Flags().IntVar(&keep, "keep", 0, "Confirmed nonces to keep below the highest (defaults to the configured retention)")
	return cmd
}
