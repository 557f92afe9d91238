package signature

import (
	"github.com/countersign/countersign/deal"
)

// Record is one party's completed signature on one deal's contract version.
// Once Signed is true the record is immutable, corrections require a new
// contract version, never a mutation of history.
type Record struct {
	ID              any       `json:"-"                bson:"_id,omitempty"    db:"id"`
	DealID          string    `json:"deal_id"          bson:"deal_id"          db:"deal_id"`
	Role            deal.Role `json:"role"             bson:"role"             db:"role"`
	SignerIdentity  string    `json:"signer_identity"  bson:"signer_identity"  db:"signer_identity"`
	Signed          bool      `json:"signed"           bson:"signed"           db:"signed"`
	SignedAt        int64     `json:"signed_at"        bson:"signed_at"        db:"signed_at"`
	Contact         string    `json:"contact"          bson:"contact"          db:"contact"`
	RemoteAddr      string    `json:"remote_addr"      bson:"remote_addr"      db:"remote_addr"`
	ClientAgent     string    `json:"client_agent"     bson:"client_agent"     db:"client_agent"`
	ContractVersion string    `json:"contract_version" bson:"contract_version" db:"contract_version"`
}

// Proof carries the audit trail captured at the moment of signing.
type Proof struct {
	Contact     string `json:"contact"`
	RemoteAddr  string `json:"remote_addr"`
	ClientAgent string `json:"client_agent"`
	Reference   string `json:"reference"` // local receipt or provider envelope reference
}

// State is the derived two party signing state of a deal.
// It is a pure projection of the signature records for the deal's current
// contract version and is never persisted.
type State struct {
	AwaitingCreator      bool `json:"awaiting_creator"`
	AwaitingCounterparty bool `json:"awaiting_counterparty"`
	BothSigned           bool `json:"both_signed"`
	Degraded             bool `json:"degraded,omitempty"` // provider was unreachable while the counterparty fact is unconfirmed
}

// NewState projects signature records onto the two party signing state.
// Records for other contract versions than the given one do not count.
func NewState(records []Record, contractVersion string) State {
	st := State{AwaitingCreator: true, AwaitingCounterparty: true}
	for _, r := range records {
		if !r.Signed || r.ContractVersion != contractVersion {
			continue
		}
		switch r.Role {
		case deal.RoleCreator:
			st.AwaitingCreator = false
		case deal.RoleCounterparty:
			st.AwaitingCounterparty = false
		}
	}
	st.BothSigned = !st.AwaitingCreator && !st.AwaitingCounterparty
	return st
}
