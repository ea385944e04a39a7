// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package msgs

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/hyperledger/firefly-common/pkg/i18n"
	"golang.org/x/text/language"
)

const ethSenderPrefix = "ES01"

var registered sync.Once
var ffe = func(key, translation string, statusHint ...int) i18n.ErrorMessageKey {
	registered.Do(func() {
		i18n.RegisterPrefix(ethSenderPrefix, "Settlement Transaction Manager")
	})
	if !strings.HasPrefix(key, ethSenderPrefix) {
		panic(fmt.Errorf("must have prefix '%s': %s", ethSenderPrefix, key))
	}
	return i18n.FFE(language.AmericanEnglish, key, translation, statusHint...)
}

var (
	// Config ES0100XX
	MsgConfigFileMissing    = ffe("ES010000", "Config file not found at path: %s")
	MsgConfigFileReadError  = ffe("ES010001", "Failed to read config file %s with error: %s")
	MsgConfigFileParseError = ffe("ES010002", "Failed to parse config file: %s")
	MsgContextCanceled      = ffe("ES010003", "Context canceled")
	MsgConfirmationRequired = ffe("ES010004", "Refusing to delete without --yes")

	// Persistence ES0101XX
	MsgPersistenceInvalidType          = ffe("ES010100", "Invalid database type: %s")
	MsgPersistenceMissingDSN           = ffe("ES010101", "Missing database connection DSN")
	MsgPersistenceInitFailed           = ffe("ES010102", "Database init failed")
	MsgPersistenceMigrationFailed      = ffe("ES010103", "Database migration failed")
	MsgPersistenceMissingMigrationDir  = ffe("ES010104", "Missing database migration directory for autoMigrate")
	MsgPersistenceErrorInDBTransaction = ffe("ES010105", "Database transaction failed: %v")
	MsgPersistenceInvalidDSNTemplate   = ffe("ES010106", "DSN template is invalid")
	MsgPersistenceDSNParamLoadFile     = ffe("ES010107", "Failed to load DSN parameter '%s' from file '%s'")

	// Settlement ledger ES0102XX
	MsgAllocationFailed        = ffe("ES010200", "Failed to allocate nonce for namespace %s", 503)
	MsgDuplicateAttempt        = ffe("ES010201", "Attempt %s is already recorded against settlement transaction %d with different fee parameters or owner", 409)
	MsgInvariantViolation      = ffe("ES010202", "Settlement ledger invariant violated: %s", 500)
	MsgLogicalTxNotFound       = ffe("ES010203", "Settlement transaction %d not found", 404)
	MsgAttemptNotFound         = ffe("ES010204", "Settlement attempt %v not found", 404)
	MsgLedgerReadFailed        = ffe("ES010205", "Failed to read from the settlement ledger", 503)
	MsgLedgerWriteFailed       = ffe("ES010206", "Failed to write to the settlement ledger", 503)
	MsgInvalidOperationKind    = ffe("ES010207", "Invalid operation kind '%s'", 400)
	MsgInvalidSettlementRoute  = ffe("ES010208", "Invalid settlement route '%s'", 400)
	MsgInvalidFinalityStatus   = ffe("ES010209", "Invalid finality status '%s'", 400)
	MsgEmptyPayload            = ffe("ES010210", "Transaction payload must not be empty", 400)
	MsgInvalidLimit            = ffe("ES010211", "Limit must be greater than zero", 400)
	MsgInvalidSigningAccount   = ffe("ES010212", "Invalid signing account '%s'", 400)
	MsgFeedNotRunning          = ffe("ES010213", "Chain observation feed is not running")
	MsgInvalidObservation      = ffe("ES010214", "Invalid chain observation: %s", 400)
	MsgNoAttemptsForLogicalTx  = ffe("ES010215", "Settlement transaction %d has no recorded attempts", 404)
	MsgInvalidFeeParameters    = ffe("ES010216", "Invalid fee parameters: %s", 400)
	MsgSettlementChainConflict = ffe("ES010217", "Settlement transaction %d already landed on chain %d (requested %d)", 409)
)

// Is reports whether err, or anything it wraps, was raised with the given message key
func Is(err error, key i18n.ErrorMessageKey) bool {
	var ffErr i18n.FFError
	if errors.As(err, &ffErr) {
		return ffErr.MessageKey() == key
	}
	return false
}
