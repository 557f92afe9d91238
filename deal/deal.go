package deal

import "time"

// Role distinguishes the two signing parties of a deal.
// Mechanics of tokens and signatures are symmetric for both roles,
// only the triggers for token issuance differ.
type Role string

const (
	RoleCreator      Role = "creator"
	RoleCounterparty Role = "counterparty"
)

// Valid tells if the role belongs to the two element role set.
func (r Role) Valid() bool {
	switch r {
	case RoleCreator, RoleCounterparty:
		return true
	}
	return false
}

// Other returns the opposite signing party role.
func (r Role) Other() Role {
	if r == RoleCreator {
		return RoleCounterparty
	}
	return RoleCreator
}

// Stage is the coarse persisted lifecycle label of a deal.
// It is the single authoritative status field, derived signing state is never stored.
type Stage string

const (
	StageAwaitingDetails Stage = "awaiting_details"
	StageContractReady   Stage = "contract_ready"
	StageSigned          Stage = "signed"
	StageNeedsChanges    Stage = "needs_changes"
	StageDeclined        Stage = "declined"
	StageCompleted       Stage = "completed"
)

// Terminal tells if the stage allows no further transitions.
func (s Stage) Terminal() bool {
	switch s {
	case StageDeclined, StageCompleted:
		return true
	}
	return false
}

// CanTransition tells if moving the deal from one stage to the other is allowed.
// Moving to StageSigned is additionally gated on both parties signatures,
// which this function does not check, the stage machine does.
func CanTransition(from, to Stage) bool {
	if from.Terminal() {
		return false
	}
	if to == StageDeclined {
		return true
	}
	switch from {
	case StageAwaitingDetails:
		return to == StageContractReady
	case StageContractReady:
		return to == StageSigned
	case StageSigned:
		return to == StageNeedsChanges || to == StageCompleted
	case StageNeedsChanges:
		return to == StageContractReady
	}
	return false
}

// Deal holds the persisted deal record fields this service reads.
// The surrounding dashboard owns the rest of the deal entity.
type Deal struct {
	ID                any    `json:"-"                  bson:"_id,omitempty"      db:"id"`
	DealID            string `json:"deal_id"            bson:"deal_id"            db:"deal_id"`
	Stage             Stage  `json:"stage"              bson:"stage"              db:"stage"`
	ContractVersion   string `json:"contract_version"   bson:"contract_version"   db:"contract_version"`
	CreatorEmail      string `json:"creator_email"      bson:"creator_email"      db:"creator_email"`
	CounterpartyEmail string `json:"counterparty_email" bson:"counterparty_email" db:"counterparty_email"`
	CreatedAt         int64  `json:"created_at"         bson:"created_at"         db:"created_at"`
}

// RequiresSignature tells if the deal is in a stage where the given
// party's signature is awaited.
func (d Deal) RequiresSignature(r Role) bool {
	return d.Stage == StageContractReady && r.Valid()
}

// SignerEmail returns the contact of the party holding given role.
func (d Deal) SignerEmail(r Role) string {
	if r == RoleCreator {
		return d.CreatorEmail
	}
	return d.CounterpartyEmail
}

// Summary is the part of the deal safe to show to a signing link holder.
type Summary struct {
	DealID          string `json:"deal_id"`
	ContractVersion string `json:"contract_version"`
	Stage           Stage  `json:"stage"`
}

// Summarize strips the deal down to fields presentable on the signing page.
func (d Deal) Summarize() Summary {
	return Summary{DealID: d.DealID, ContractVersion: d.ContractVersion, Stage: d.Stage}
}

// Now returns the wall clock reading used across entities of this service.
func Now() int64 {
	return time.Now().UnixMicro()
}
