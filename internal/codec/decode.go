package codec

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

// ErrUnknownEvent is returned when a log's topic0 doesn't match any
// registered event signature. Non-fatal: the tailer logs and skips, it
// never blocks.
type ErrUnknownEvent struct {
	Topic0 common.Hash
}

func (e *ErrUnknownEvent) Error() string {
	return fmt.Sprintf("codec: unknown event signature %s", e.Topic0.Hex())
}

// ErrMalformedPayload wraps an ABI unpacking failure. Fatal only for the
// offending log — the tailer counts it and moves on.
type ErrMalformedPayload struct {
	EventType chainevents.Type
	Cause     error
}

func (e *ErrMalformedPayload) Error() string {
	return fmt.Sprintf("codec: malformed %s payload: %v", e.EventType, e.Cause)
}

func (e *ErrMalformedPayload) Unwrap() error { return e.Cause }

// DecodeLog converts a raw EVM log into a typed domain event. blockTimestamp
// is passed in separately because types.Log carries no timestamp — the
// caller (Chain Tailer) fetches it once per block header and threads it
// through for every log in that block.
func DecodeLog(log types.Log, chainID int64, blockTimestamp int64) (chainevents.Event, error) {
	if len(log.Topics) == 0 {
		return chainevents.Event{}, &ErrUnknownEvent{}
	}

	desc, ok := lookup(log.Topics[0])
	if !ok {
		return chainevents.Event{}, &ErrUnknownEvent{Topic0: log.Topics[0]}
	}

	fields := make(map[string]interface{})
	if err := abi.ParseTopicsIntoMap(fields, desc.indexed, log.Topics[1:]); err != nil {
		return chainevents.Event{}, &ErrMalformedPayload{EventType: desc.domainType, Cause: fmt.Errorf("indexed fields: %w", err)}
	}
	if len(desc.data) > 0 {
		if err := desc.data.UnpackIntoMap(fields, log.Data); err != nil {
			return chainevents.Event{}, &ErrMalformedPayload{EventType: desc.domainType, Cause: fmt.Errorf("data fields: %w", err)}
		}
	}

	payload, err := buildPayload(desc.domainType, fields)
	if err != nil {
		return chainevents.Event{}, &ErrMalformedPayload{EventType: desc.domainType, Cause: err}
	}

	envelope := chainevents.Envelope{
		EventType:       desc.domainType,
		ChainID:         chainID,
		BlockNumber:     log.BlockNumber,
		BlockHash:       strings.ToLower(log.BlockHash.Hex()),
		BlockTimestamp:  blockTimestamp,
		TxHash:          strings.ToLower(log.TxHash.Hex()),
		LogIndex:        log.Index,
		ContractAddress: strings.ToLower(log.Address.Hex()),
	}
	envelope.EventID = EventID(chainID, envelope.BlockHash, envelope.LogIndex)

	return chainevents.Event{Envelope: envelope, Payload: payload}, nil
}

func addr(fields map[string]interface{}, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	a, ok := v.(common.Address)
	if !ok {
		return "", fmt.Errorf("field %q: expected address, got %T", name, v)
	}
	return strings.ToLower(a.Hex()), nil
}

func amount(fields map[string]interface{}, name string) (string, error) {
	v, ok := fields[name]
	if !ok {
		return "", fmt.Errorf("missing field %q", name)
	}
	n, ok := v.(*big.Int)
	if !ok {
		return "", fmt.Errorf("field %q: expected uint256, got %T", name, v)
	}
	return n.String(), nil
}

func uintField(fields map[string]interface{}, name string) (uint64, error) {
	v, ok := fields[name]
	if !ok {
		return 0, fmt.Errorf("missing field %q", name)
	}
	n, ok := v.(*big.Int)
	if !ok {
		return 0, fmt.Errorf("field %q: expected uint256, got %T", name, v)
	}
	return n.Uint64(), nil
}

func buildPayload(t chainevents.Type, fields map[string]interface{}) (any, error) {
	switch t {
	case chainevents.TypeEscrowDeployed:
		escrowAddress, err := addr(fields, "escrowAddress")
		if err != nil {
			return nil, err
		}
		factoryAddress, err := addr(fields, "factoryAddress")
		if err != nil {
			return nil, err
		}
		creator, err := addr(fields, "creator")
		if err != nil {
			return nil, err
		}
		return chainevents.PayloadEscrowDeployed{
			EscrowAddress:  escrowAddress,
			FactoryAddress: factoryAddress,
			Creator:        creator,
		}, nil

	case chainevents.TypeEscrowCreated:
		escrowAddress, err := addr(fields, "escrowAddress")
		if err != nil {
			return nil, err
		}
		payer, err := addr(fields, "payer")
		if err != nil {
			return nil, err
		}
		payee, err := addr(fields, "payee")
		if err != nil {
			return nil, err
		}
		arbiter, err := addr(fields, "arbiter")
		if err != nil {
			return nil, err
		}
		amt, err := amount(fields, "amount")
		if err != nil {
			return nil, err
		}
		asset, err := addr(fields, "asset")
		if err != nil {
			return nil, err
		}
		delay, err := uintField(fields, "releaseDelaySeconds")
		if err != nil {
			return nil, err
		}
		required, err := uintField(fields, "approvalsRequired")
		if err != nil {
			return nil, err
		}
		return chainevents.PayloadEscrowCreated{
			EscrowAddress:       escrowAddress,
			Payer:               payer,
			Payee:               payee,
			Arbiter:             arbiter,
			Amount:              amt,
			Asset:               asset,
			ReleaseDelaySeconds: delay,
			ApprovalsRequired:   uint32(required),
		}, nil

	case chainevents.TypeApproved:
		escrowAddress, err := addr(fields, "escrowAddress")
		if err != nil {
			return nil, err
		}
		approver, err := addr(fields, "approver")
		if err != nil {
			return nil, err
		}
		return chainevents.PayloadApproved{EscrowAddress: escrowAddress, Approver: approver}, nil

	case chainevents.TypeEscrowReleased:
		escrowAddress, err := addr(fields, "escrowAddress")
		if err != nil {
			return nil, err
		}
		to, err := addr(fields, "to")
		if err != nil {
			return nil, err
		}
		amt, err := amount(fields, "amount")
		if err != nil {
			return nil, err
		}
		return chainevents.PayloadEscrowReleased{EscrowAddress: escrowAddress, To: to, Amount: amt}, nil

	case chainevents.TypeEscrowRefunded:
		escrowAddress, err := addr(fields, "escrowAddress")
		if err != nil {
			return nil, err
		}
		to, err := addr(fields, "to")
		if err != nil {
			return nil, err
		}
		amt, err := amount(fields, "amount")
		if err != nil {
			return nil, err
		}
		return chainevents.PayloadEscrowRefunded{EscrowAddress: escrowAddress, To: to, Amount: amt}, nil

	default:
		return nil, fmt.Errorf("unhandled domain type %s", t)
	}
}
