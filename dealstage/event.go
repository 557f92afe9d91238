package dealstage

import (
	"time"

	"github.com/countersign/countersign/deal"
)

// Event describes an applied deal stage transition, published for
// subscribers streaming stage changes.
type Event struct {
	DealID     string     `json:"deal_id"`
	Stage      deal.Stage `json:"stage"`
	OccurredAt time.Time  `json:"occurred_at"`
}
