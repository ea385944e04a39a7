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
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rollup-settlement/ethsender/internal/ledgerstore"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr"
	"github.com/rollup-settlement/ethsender/internal/settletxmgr/metrics"
	"github.com/rollup-settlement/ethsender/pkg/config"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/rollup-settlement/ethsender/pkg/settleapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAccount = "0x3333333333333333333333333333333333333333"

func writeTestConfig(t *testing.T, metricsEnabled ...bool) string {
	_, thisFile, _, _ := runtime.Caller(0)
	migrations := path.Join(path.Dir(thisFile), "..", "..", "db", "migrations", "sqlite")
	dir := t.TempDir()
	configFile := filepath.Join(dir, "ethsender.yaml")
	err := os.WriteFile(configFile, []byte(fmt.Sprintf(`
log:
  level: error
db:
  type: sqlite
  sqlite:
    dsn: %s
    autoMigrate: true
    migrationsDir: %s
metrics:
  enabled: %t
`, filepath.Join(dir, "ledger.db"), migrations, len(metricsEnabled) > 0 && metricsEnabled[0])), 0644)
	require.NoError(t, err)
	return configFile
}

func runCmd(args ...string) (string, error) {
	cmd := NewRootCmd()
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

// seed loads the ledger through the manager, the way the sender does
func seed(t *testing.T, configFile string, fn func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence)) {
	ctx := context.Background()
	conf := &config.EthSenderConfig{}
	require.NoError(t, config.ReadAndParseYAMLFile(ctx, configFile, conf))
	p, err := persistence.NewPersistence(ctx, &conf.DB)
	require.NoError(t, err)
	defer p.Close()
	m := settletxmgr.NewManager(ctx, &conf.SettlementManager, p, ledgerstore.New(), metrics.InitMetrics(ctx, prometheus.NewRegistry()))
	defer m.Stop()
	fn(ctx, m, p)
}

func seedConfirmed(t *testing.T, ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence, ns *settleapi.Namespace, count int) []*settleapi.LogicalTx {
	txs := make([]*settleapi.LogicalTx, count)
	for i := range txs {
		err := p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) (err error) {
			txs[i], err = m.CreateLogicalTx(ctx, dbTX, &settleapi.NewLogicalTx{
				Kind: settleapi.OperationCommit, Payload: []byte{byte(i + 1)}, Namespace: *ns,
			})
			return err
		})
		require.NoError(t, err)
		a, err := m.RecordAttempt(ctx, &settleapi.NewAttempt{
			LogicalTxID:   txs[i].ID,
			Fees:          settleapi.FeeParameters{BaseFeePerGas: 10, PriorityFeePerGas: 1},
			SignedPayload: []byte(fmt.Sprintf("signed-%d", i)),
		})
		require.NoError(t, err)
		require.NoError(t, m.OnFinalized(ctx, &settleapi.Finalized{Fingerprint: a.Fingerprint}))
	}
	return txs
}

func testNamespace(t *testing.T) *settleapi.Namespace {
	ns, err := (&namespaceOptions{account: testAccount, route: "direct"}).namespace(context.Background())
	require.NoError(t, err)
	return ns
}

func TestMigrateCommand(t *testing.T) {
	configFile := writeTestConfig(t)
	out, err := runCmd("migrate", "-c", configFile, "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"migrated": true`)

	out, err = runCmd("migrate", "-c", configFile, "--no-color")
	require.NoError(t, err)
	assert.Contains(t, out, "Database migrated")
}

func TestMissingConfig(t *testing.T) {
	_, err := runCmd("stats", "-c", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Regexp(t, "ES010000", err)
}

func TestStatsCommand(t *testing.T) {
	configFile := writeTestConfig(t)
	ns := testNamespace(t)
	seed(t, configFile, func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence) {
		seedConfirmed(t, ctx, m, p, ns, 2)
		err := p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) error {
			_, err := m.CreateLogicalTx(ctx, dbTX, &settleapi.NewLogicalTx{
				Kind: settleapi.OperationExecute, Payload: []byte{0xff}, Namespace: *ns,
			})
			return err
		})
		require.NoError(t, err)
	})

	out, err := runCmd("stats", "-c", configFile, "--json", "--check")
	require.NoError(t, err)
	var res statsResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.Equal(t, int64(1), res.InFlight[settleapi.RouteDirect])
	assert.Equal(t, int64(0), res.InFlight[settleapi.RouteGateway])
	assert.Equal(t, int64(1), res.Unconfirmed)
	assert.Equal(t, settleapi.OperationExecute, res.OldestUnfinalized.Tx.Kind)
	assert.Equal(t, int64(2), res.Operations[0].Confirmed)
	assert.True(t, *res.InvariantsHold)

	out, err = runCmd("stats", "-c", configFile, "--check")
	require.NoError(t, err)
	assert.Contains(t, out, "In flight")
	assert.Contains(t, out, "Ledger invariants hold")
}

func TestReorgAndUnconfirmedCommands(t *testing.T) {
	configFile := writeTestConfig(t)
	ns := testNamespace(t)
	seed(t, configFile, func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence) {
		seedConfirmed(t, ctx, m, p, ns, 3)
	})

	out, err := runCmd("unconfirmed", "-c", configFile, "--account", testAccount, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, "[]", out)

	out, err = runCmd("reorg", "-c", configFile, "--account", testAccount, "--from-nonce", "1", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"unwoundAttempts": 2}`, out)

	out, err = runCmd("unconfirmed", "-c", configFile, "--account", testAccount, "--json")
	require.NoError(t, err)
	var txs []*settleapi.LogicalTx
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	require.Len(t, txs, 2)
	assert.Equal(t, uint64(1), txs[0].Nonce)
	assert.Equal(t, uint64(2), txs[1].Nonce)

	out, err = runCmd("unconfirmed", "-c", configFile, "--account", testAccount, "--limit", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "nonce=1")
	assert.NotContains(t, out, "nonce=2")

	_, err = runCmd("reorg", "-c", configFile, "--account", testAccount, "--route", "sideways", "--from-nonce", "1")
	assert.Regexp(t, "ES010208", err)
}

func TestClearFailedCommand(t *testing.T) {
	configFile := writeTestConfig(t)
	ns := testNamespace(t)
	seed(t, configFile, func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence) {
		txs := seedConfirmed(t, ctx, m, p, ns, 3)
		require.NoError(t, m.MarkFailed(ctx, txs[1].ID))
	})

	_, err := runCmd("clear-failed", "-c", configFile, "--account", testAccount)
	assert.Regexp(t, "ES010004", err)

	out, err := runCmd("clear-failed", "-c", configFile, "--account", testAccount, "--yes", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": 2}`, out)
}

func TestPruneCommand(t *testing.T) {
	configFile := writeTestConfig(t)
	ns := testNamespace(t)
	seed(t, configFile, func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence) {
		seedConfirmed(t, ctx, m, p, ns, 4)
	})

	out, err := runCmd("prune", "-c", configFile, "--account", testAccount, "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"deleted": 0}`, out)

	out, err = runCmd("prune", "-c", configFile, "--account", testAccount, "--keep", "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Pruned 2 confirmed transactions")
}

func TestBadAccount(t *testing.T) {
	configFile := writeTestConfig(t)
	_, err := runCmd("unconfirmed", "-c", configFile, "--account", "not-an-address")
	assert.Error(t, err)

	_, err = runCmd("unconfirmed", "-c", configFile)
	assert.Regexp(t, "account", err)
}

func TestMetricsOnDefaultRegistry(t *testing.T) {
	configFile := writeTestConfig(t, true)
	ns := testNamespace(t)
	seed(t, configFile, func(ctx context.Context, m *settletxmgr.Manager, p persistence.Persistence) {
		seedConfirmed(t, ctx, m, p, ns, 1)
	})

	_, err := runCmd("reorg", "-c", configFile, "--account", testAccount, "--from-nonce", "0")
	require.NoError(t, err)

	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	unwound := float64(-1)
	for _, family := range families {
		if family.GetName() == "settlement_transaction_manager_reorg_unwound_attempts_total" {
			unwound = family.GetMetric()[0].GetCounter().GetValue()
		}
	}
	assert.Equal(t, float64(1), unwound)
}
