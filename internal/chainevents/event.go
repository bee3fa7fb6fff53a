// Package chainevents defines the typed domain events that flow from the
// Event Codec through the bus into the Projection Engine. Every boundary in
// this pipeline — ABI decode, bus wire format, SQL projection — speaks this
// type, never a raw EVM log or a bag of interface{}.
package chainevents

import "fmt"

// Type is the closed set of domain event tags. Downstream switches on Type
// are expected to be exhaustive; adding a new Type means touching the
// codec, the projection engine's transition table, and this const block
// together.
type Type string

const (
	TypeEscrowDeployed Type = "EscrowDeployed"
	TypeEscrowCreated  Type = "EscrowCreated"
	TypeApproved       Type = "Approved"
	TypeEscrowReleased Type = "EscrowReleased"
	TypeEscrowRefunded Type = "EscrowRefunded"
)

// Valid reports whether t is one of the known event types.
func (t Type) Valid() bool {
	switch t {
	case TypeEscrowDeployed, TypeEscrowCreated, TypeApproved, TypeEscrowReleased, TypeEscrowRefunded:
		return true
	default:
		return false
	}
}

// Envelope is the common shell carried by every domain event on the bus.
type Envelope struct {
	EventID         string `json:"event_id"`
	EventType       Type   `json:"event_type"`
	ChainID         int64  `json:"chain_id"`
	BlockNumber     uint64 `json:"block_number"`
	BlockHash       string `json:"block_hash"`
	BlockTimestamp  int64  `json:"block_timestamp"`
	TxHash          string `json:"tx_hash"`
	LogIndex        uint   `json:"log_index"`
	ContractAddress string `json:"contract_address"`
}

// Event pairs the envelope with its type-specific payload. Payload is
// always one of the Payload* structs below; Type says which.
type Event struct {
	Envelope
	Payload any `json:"payload"`
}

// Before reports whether e sorts strictly before o in the canonical
// (block_number, log_index) order the pipeline treats as causal order.
func (e Envelope) Before(o Envelope) bool {
	if e.BlockNumber != o.BlockNumber {
		return e.BlockNumber < o.BlockNumber
	}
	return e.LogIndex < o.LogIndex
}

// PayloadEscrowDeployed is the payload for TypeEscrowDeployed.
type PayloadEscrowDeployed struct {
	EscrowAddress  string `json:"escrow_address"`
	FactoryAddress string `json:"factory_address"`
	Creator        string `json:"creator"`
}

// PayloadEscrowCreated is the payload for TypeEscrowCreated.
type PayloadEscrowCreated struct {
	EscrowAddress        string `json:"escrow_address"`
	Payer                string `json:"payer"`
	Payee                string `json:"payee"`
	Arbiter              string `json:"arbiter"` // may be the zero address
	Amount               string `json:"amount"`  // decimal string, uint256
	Asset                string `json:"asset"`   // address, or zero for native
	ReleaseDelaySeconds  uint64 `json:"release_delay_seconds"`
	ApprovalsRequired    uint32 `json:"approvals_required"`
}

// PayloadApproved is the payload for TypeApproved.
type PayloadApproved struct {
	EscrowAddress string `json:"escrow_address"`
	Approver      string `json:"approver"`
}

// PayloadEscrowReleased is the payload for TypeEscrowReleased.
type PayloadEscrowReleased struct {
	EscrowAddress string `json:"escrow_address"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
}

// PayloadEscrowRefunded is the payload for TypeEscrowRefunded.
type PayloadEscrowRefunded struct {
	EscrowAddress string `json:"escrow_address"`
	To            string `json:"to"`
	Amount        string `json:"amount"`
}

// EscrowAddress extracts the escrow_address field common to every payload
// type. Returns an error for malformed or unrecognized payloads rather
// than panicking — callers are expected to have already validated Type.
func (e Event) EscrowAddress() (string, error) {
	switch p := e.Payload.(type) {
	case PayloadEscrowDeployed:
		return p.EscrowAddress, nil
	case PayloadEscrowCreated:
		return p.EscrowAddress, nil
	case PayloadApproved:
		return p.EscrowAddress, nil
	case PayloadEscrowReleased:
		return p.EscrowAddress, nil
	case PayloadEscrowRefunded:
		return p.EscrowAddress, nil
	default:
		return "", fmt.Errorf("chainevents: unrecognized payload type %T", p)
	}
}
