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
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/spf13/cobra"
)

type printer struct {
	w io.Writer
}

func (opts *rootOptions) printResult(cmd *cobra.Command, result any, text func(out *printer)) error {
	if opts.jsonMode {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	text(&printer{w: cmd.OutOrStdout()})
	return nil
}

func (p *printer) success(format string, args ...any) {
	fmt.Fprintln(p.w, color.GreenString(format, args...))
}

func (p *printer) warn(format string, args ...any) {
	fmt.Fprintln(p.w, color.YellowString(format, args...))
}

func (p *printer) stats(res *statsResult) {
	bold := color.New(color.Bold)
	bold.Fprintln(p.w, "In flight")
	for _, route := range settleapi.SettlementRoutes() {
		fmt.Fprintf(p.w, "  %-10s %s\n", route, countString(res.InFlight[route]))
	}
	fmt.Fprintf(p.w, "Unconfirmed: %d\n", res.Unconfirmed)
	if res.Failed > 0 {
		fmt.Fprintf(p.w, "Failed:      %s\n", color.RedString("%d", res.Failed))
	} else {
		fmt.Fprintf(p.w, "Failed:      %d\n", res.Failed)
	}
	if res.OldestUnfinalized != nil {
		tx := res.OldestUnfinalized.Tx
		fmt.Fprintf(p.w, "Oldest unfinalized: %s nonce=%d id=%d (%s)\n",
			tx.Kind, tx.Nonce, tx.ID, tx.Created.Format("2006-01-02 15:04:05 MST"))
	}
	fmt.Fprintln(p.w)
	bold.Fprintln(p.w, "Operations")
	for _, op := range res.Operations {
		highest := "-"
		if op.HighestConfirmedNonce != nil {
			highest = fmt.Sprintf("%d", *op.HighestConfirmedNonce)
		}
		fmt.Fprintf(p.w, "  %-14s total=%d confirmed=%d failed=%d highest_confirmed_nonce=%s\n",
			op.Kind, op.Total, op.Confirmed, op.Failed, highest)
	}
	if res.InvariantsHold != nil {
		if *res.InvariantsHold {
			fmt.Fprintln(p.w, color.GreenString("Ledger invariants hold"))
		} else {
			fmt.Fprintln(p.w, color.RedString("Ledger invariants violated"))
		}
	}
}

func (p *printer) transactions(ns *settleapi.Namespace, txs []*settleapi.LogicalTx) {
	color.New(color.Bold).Fprintf(p.w, "Unconfirmed transactions of %s\n", ns)
	if len(txs) == 0 {
		fmt.Fprintln(p.w, "  none")
	}
	for _, tx := range txs {
		fmt.Fprintf(p.w, "  nonce=%-6d id=%-8d %-14s created=%s\n",
			tx.Nonce, tx.ID, tx.Kind, tx.Created.Format("2006-01-02 15:04:05 MST"))
	}
}

func countString(n int64) string {
	if n == 0 {
		return color.GreenString("0")
	}
	return color.YellowString("%d", n)
}
