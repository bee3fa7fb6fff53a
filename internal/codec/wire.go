package codec

import (
	"encoding/json"
	"fmt"

	"github.com/ocx/escrow-indexer/internal/chainevents"
)

// Encode serializes a domain event to the canonical bus wire format: JSON
// with sorted keys and decimal amounts as strings. Go's encoding/json
// sorts map keys on marshal, so building the envelope+payload as a map
// gives us canonical ordering for free without hand-rolled serialization.
func Encode(e chainevents.Event) ([]byte, error) {
	payload, err := payloadToMap(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("codec: encode payload: %w", err)
	}

	out := map[string]interface{}{
		"event_id":         e.EventID,
		"event_type":       string(e.EventType),
		"chain_id":         e.ChainID,
		"block_number":     e.BlockNumber,
		"block_hash":       e.BlockHash,
		"block_timestamp":  e.BlockTimestamp,
		"tx_hash":          e.TxHash,
		"log_index":        e.LogIndex,
		"contract_address": e.ContractAddress,
		"payload":          payload,
	}
	return json.Marshal(out)
}

// payloadToMap round-trips a typed payload through JSON into a
// map[string]interface{} so Encode can merge it into the sorted envelope
// map above.
func payloadToMap(payload any) (map[string]interface{}, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// wireEnvelope mirrors the JSON shape produced by Encode, used only to
// decode the envelope fields before dispatching the payload by event_type.
type wireEnvelope struct {
	EventID         string          `json:"event_id"`
	EventType       string          `json:"event_type"`
	ChainID         int64           `json:"chain_id"`
	BlockNumber     uint64          `json:"block_number"`
	BlockHash       string          `json:"block_hash"`
	BlockTimestamp  int64           `json:"block_timestamp"`
	TxHash          string          `json:"tx_hash"`
	LogIndex        uint            `json:"log_index"`
	ContractAddress string          `json:"contract_address"`
	Payload         json.RawMessage `json:"payload"`
}

// DecodeWire parses bus wire-format JSON back into a domain event — the
// inverse of Encode, satisfying the round-trip law decode(encode(e)) == e.
// event_type inside the payload is always authoritative; DecodeWire never
// looks at broker attributes, that's the Subscriber's job (see
// internal/bus).
func DecodeWire(data []byte) (chainevents.Event, error) {
	var w wireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return chainevents.Event{}, fmt.Errorf("codec: decode envelope: %w", err)
	}

	t := chainevents.Type(w.EventType)
	if !t.Valid() {
		return chainevents.Event{}, &ErrUnknownEvent{}
	}

	payload, err := decodePayload(t, w.Payload)
	if err != nil {
		return chainevents.Event{}, &ErrMalformedPayload{EventType: t, Cause: err}
	}

	return chainevents.Event{
		Envelope: chainevents.Envelope{
			EventID:         w.EventID,
			EventType:       t,
			ChainID:         w.ChainID,
			BlockNumber:     w.BlockNumber,
			BlockHash:       w.BlockHash,
			BlockTimestamp:  w.BlockTimestamp,
			TxHash:          w.TxHash,
			LogIndex:        w.LogIndex,
			ContractAddress: w.ContractAddress,
		},
		Payload: payload,
	}, nil
}

func decodePayload(t chainevents.Type, raw json.RawMessage) (any, error) {
	switch t {
	case chainevents.TypeEscrowDeployed:
		var p chainevents.PayloadEscrowDeployed
		err := json.Unmarshal(raw, &p)
		return p, err
	case chainevents.TypeEscrowCreated:
		var p chainevents.PayloadEscrowCreated
		err := json.Unmarshal(raw, &p)
		return p, err
	case chainevents.TypeApproved:
		var p chainevents.PayloadApproved
		err := json.Unmarshal(raw, &p)
		return p, err
	case chainevents.TypeEscrowReleased:
		var p chainevents.PayloadEscrowReleased
		err := json.Unmarshal(raw, &p)
		return p, err
	case chainevents.TypeEscrowRefunded:
		var p chainevents.PayloadEscrowRefunded
		err := json.Unmarshal(raw, &p)
		return p, err
	default:
		return nil, fmt.Errorf("unhandled domain type %s", t)
	}
}
