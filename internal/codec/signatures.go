// Package codec converts between raw EVM logs and typed domain events
// (chainevents.Event), and between those events and the canonical JSON wire
// format published on the bus. See chainevents for the type definitions.
package codec

import (
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

// eventDescriptor pairs an ABI event signature with the chainevents.Type it
// decodes to, split into its indexed and non-indexed argument lists the way
// go-ethereum's abi package requires for topic/data unpacking.
type eventDescriptor struct {
	domainType chainevents.Type
	topic0     common.Hash
	indexed    abi.Arguments
	data       abi.Arguments
}

var addressTy, uint256Ty abi.Type

func init() {
	var err error
	addressTy, err = abi.NewType("address", "", nil)
	if err != nil {
		panic(fmt.Sprintf("codec: address type: %v", err))
	}
	uint256Ty, err = abi.NewType("uint256", "", nil)
	if err != nil {
		panic(fmt.Sprintf("codec: uint256 type: %v", err))
	}
}

func arg(name string, t abi.Type, indexed bool) abi.Argument {
	return abi.Argument{Name: name, Type: t, Indexed: indexed}
}

// registry maps topic0 -> descriptor. Built once at init from the fixed
// event signatures this indexer tracks; only these signatures are decoded.
// The EventSignatures field of the chain config is not consulted here, so
// an unfamiliar topic0 is always reported as an unknown event.
var registry = map[common.Hash]*eventDescriptor{}

func mustRegister(sig string, domainType chainevents.Type, indexedArgs, dataArgs abi.Arguments) {
	id := crypto.Keccak256Hash([]byte(sig))
	registry[id] = &eventDescriptor{
		domainType: domainType,
		topic0:     id,
		indexed:    indexedArgs,
		data:       dataArgs,
	}
}

func init() {
	mustRegister(
		"EscrowDeployed(address,address,address)",
		chainevents.TypeEscrowDeployed,
		abi.Arguments{arg("escrowAddress", addressTy, true), arg("factoryAddress", addressTy, true)},
		abi.Arguments{arg("creator", addressTy, false)},
	)

	mustRegister(
		"EscrowCreated(address,address,address,address,uint256,address,uint256,uint256)",
		chainevents.TypeEscrowCreated,
		abi.Arguments{arg("escrowAddress", addressTy, true), arg("payer", addressTy, true), arg("payee", addressTy, true)},
		abi.Arguments{
			arg("arbiter", addressTy, false),
			arg("amount", uint256Ty, false),
			arg("asset", addressTy, false),
			arg("releaseDelaySeconds", uint256Ty, false),
			arg("approvalsRequired", uint256Ty, false),
		},
	)

	mustRegister(
		"Approved(address,address)",
		chainevents.TypeApproved,
		abi.Arguments{arg("escrowAddress", addressTy, true), arg("approver", addressTy, true)},
		abi.Arguments{},
	)

	mustRegister(
		"EscrowReleased(address,address,uint256)",
		chainevents.TypeEscrowReleased,
		abi.Arguments{arg("escrowAddress", addressTy, true), arg("to", addressTy, true)},
		abi.Arguments{arg("amount", uint256Ty, false)},
	)

	mustRegister(
		"EscrowRefunded(address,address,uint256)",
		chainevents.TypeEscrowRefunded,
		abi.Arguments{arg("escrowAddress", addressTy, true), arg("to", addressTy, true)},
		abi.Arguments{arg("amount", uint256Ty, false)},
	)
}

// Lookup returns the descriptor for a topic0, and whether it was known.
// Unknown topics are not an error at this layer — the caller decides what
// to do with "not ok" (the tailer logs and skips rather than publishing).
func lookup(topic0 common.Hash) (*eventDescriptor, bool) {
	d, ok := registry[topic0]
	return d, ok
}

// KnownTopics returns every topic0 this codec can decode, for building the
// Chain Tailer's eth_getLogs topic filter.
func KnownTopics() []common.Hash {
	topics := make([]common.Hash, 0, len(registry))
	for t := range registry {
		topics = append(topics, t)
	}
	return topics
}
