package codec

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// EventID computes the stable dedup key for an event: the hex-encoded
// SHA3-256 digest of "<chain_id>:<block_hash>:<log_index>". Using a hash
// rather than the tuple itself keeps escrow_events' primary key a
// fixed-width string regardless of chain or hash format.
func EventID(chainID int64, blockHash string, logIndex uint) string {
	h := sha3.New256()
	fmt.Fprintf(h, "%d:%s:%d", chainID, blockHash, logIndex)
	return "0x" + hex.EncodeToString(h.Sum(nil))
}
