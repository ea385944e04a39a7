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

package persistence

import (
	"context"

	"gorm.io/gorm"
)

type DBTX interface {
	// DB is the gorm handle to run statements against
	DB() *gorm.DB
	// FullTransaction is false for the NOTX wrapper
	FullTransaction() bool
	// AddPreCommit runs before commit. An error rolls the transaction back.
	AddPreCommit(func(txCtx context.Context, tx DBTX) error)
	// AddPostCommit runs only after a successful commit
	AddPostCommit(func(txCtx context.Context))
	// AddPostRollback can replace the error returned after a rollback. Not called on panic.
	AddPostRollback(func(txCtx context.Context, err error) error)
	// AddFinalizer runs in every case, including panics, with the final error
	AddFinalizer(func(txCtx context.Context, err error))
}

type transaction struct {
	txCtx         context.Context
	gdb           *gorm.DB
	preCommits    []func(txCtx context.Context, tx DBTX) error
	postCommits   []func(txCtx context.Context)
	postRollbacks []func(txCtx context.Context, err error) error
	finalizers    []func(txCtx context.Context, err error)
}

func (t *transaction) DB() *gorm.DB {
	return t.gdb
}

func (t *transaction) FullTransaction() bool {
	return true
}

func (t *transaction) AddPreCommit(fn func(txCtx context.Context, tx DBTX) error) {
	t.preCommits = append(t.preCommits, fn)
}

func (t *transaction) AddPostCommit(fn func(txCtx context.Context)) {
	t.postCommits = append(t.postCommits, fn)
}

func (t *transaction) AddPostRollback(fn func(txCtx context.Context, err error) error) {
	t.postRollbacks = append(t.postRollbacks, fn)
}

func (t *transaction) AddFinalizer(fn func(txCtx context.Context, err error)) {
	t.finalizers = append(t.finalizers, fn)
}

type notx struct {
	gdb *gorm.DB
}

func (t *notx) DB() *gorm.DB {
	return t.gdb
}

func (t *notx) FullTransaction() bool {
	return false
}

func (t *notx) AddPreCommit(func(txCtx context.Context, tx DBTX) error) {
	panic("pre-commit not supported outside a transaction")
}

func (t *notx) AddPostCommit(func(txCtx context.Context)) {
	panic("post-commit not supported outside a transaction")
}

func (t *notx) AddPostRollback(func(txCtx context.Context, err error) error) {
	panic("post-rollback not supported outside a transaction")
}

func (t *notx) AddFinalizer(func(txCtx context.Context, err error)) {
	panic("finalizer not supported outside a transaction")
}
