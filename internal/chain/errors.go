package chain

import "fmt"

// ErrDeepReorg is returned when the node reports a log inside the
// confirmed window as removed — a reorg deeper than ConfirmationDepth.
// The Tailer does not compare block hashes, so ExpectedHash and
// ObservedHash are left empty by it. Treated as a fatal anomaly: the
// Tailer refuses to silently resync and stops instead of guessing which
// side of the fork is canonical.
type ErrDeepReorg struct {
	ChainID      int64
	BlockNumber  uint64
	ExpectedHash string
	ObservedHash string
}

func (e *ErrDeepReorg) Error() string {
	return fmt.Sprintf("chain %d: deep reorg at block %d: expected hash %s, observed %s",
		e.ChainID, e.BlockNumber, e.ExpectedHash, e.ObservedHash)
}
