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

package mockpersistence

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/rollup-settlement/ethsender/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLMockProvider(t *testing.T) {
	mp, err := NewSQLMockProvider()
	require.NoError(t, err)

	assert.Equal(t, "sqlmock", mp.DBName())
	_, err = mp.GetMigrationDriver(mp.DB)
	assert.Regexp(t, "not supported", err)

	mp.Mock.ExpectBegin()
	mp.Mock.ExpectCommit()
	err = mp.P.Transaction(context.Background(), func(ctx context.Context, tx persistence.DBTX) error {
		return mp.P.TakeNamedLock(ctx, tx, "lock")
	})
	require.NoError(t, err)

	mp.Mock.ExpectQuery("SELECT").WillReturnRows(sqlmock.NewRows([]string{"n"}).AddRow(1))
	var n int
	require.NoError(t, mp.P.DB().Raw("SELECT 1").Scan(&n).Error)
	assert.Equal(t, 1, n)
	require.NoError(t, mp.Mock.ExpectationsWereMet())
}
