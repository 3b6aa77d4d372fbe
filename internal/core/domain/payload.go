package domain

import "encoding/json"

// PayloadKind discriminates the two shapes a Pact command payload can take.
// The variant is decided by the presence of a "code" field (spec §9).
type PayloadKind string

const (
	PayloadExecution    PayloadKind = "exec"
	PayloadContinuation PayloadKind = "cont"
)

// Payload is the decoded `cmd.payload` of a Pact command. Exactly one of
// the Execution/Continuation fields is populated, selected by Kind.
type Payload struct {
	Kind         PayloadKind
	Execution    *ExecutionPayload
	Continuation *ContinuationPayload
}

// ExecutionPayload is the "exec" variant: inline Pact source plus env data.
type ExecutionPayload struct {
	Code string          `json:"code"`
	Data json.RawMessage `json:"data"`
}

// ContinuationPayload is the "cont" variant: resumption of a multi-step
// pact (a Pact "smart contract" in the formal sense, not a transaction).
type ContinuationPayload struct {
	PactID   string          `json:"pactId"`
	Step     int             `json:"step"`
	Rollback bool            `json:"rollback"`
	Proof    *string         `json:"proof"`
	Data     json.RawMessage `json:"data"`
}

// rawPayload mirrors the wire shape before the Kind is decided.
type rawPayload struct {
	Code     *string         `json:"code"`
	Data     json.RawMessage `json:"data"`
	PactID   string          `json:"pactId"`
	Step     int             `json:"step"`
	Rollback bool            `json:"rollback"`
	Proof    *string         `json:"proof"`
}

// DecodePayload decides the variant by the presence of "code" (spec §9).
func DecodePayload(raw []byte) (Payload, error) {
	var r rawPayload
	if err := json.Unmarshal(raw, &r); err != nil {
		return Payload{}, err
	}
	if r.Code != nil {
		return Payload{
			Kind:      PayloadExecution,
			Execution: &ExecutionPayload{Code: *r.Code, Data: r.Data},
		}, nil
	}
	return Payload{
		Kind: PayloadContinuation,
		Continuation: &ContinuationPayload{
			PactID:   r.PactID,
			Step:     r.Step,
			Rollback: r.Rollback,
			Proof:    r.Proof,
			Data:     r.Data,
		},
	}, nil
}
