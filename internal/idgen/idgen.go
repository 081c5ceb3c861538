// Package idgen mints the engine's entity identifiers.
package idgen

import (
	"crypto/rand"
	"encoding/hex"
)

const randomBytes = 12

// WithPrefix returns prefix + "_" + 24 hex chars from crypto/rand,
// e.g. WithPrefix("txn") -> "txn_9c41...". Prefixes in use: wal
// (wallets), ent (ledger entries), txn (settlements), loan (loans),
// adj (admin adjustments), aud (audit records).
func WithPrefix(prefix string) string {
	b := make([]byte, randomBytes)
	if _, err := rand.Read(b); err != nil {
		panic("idgen: crypto/rand unavailable: " + err.Error())
	}
	return prefix + "_" + hex.EncodeToString(b)
}
