package domain

// NotSet is the sentinel for optional offer fields the organizer never
// supplied. Consumers see the sentinel, never an absent field.
const NotSet = "Not set"

// Handoff carries the origin-scope context of a setup that was
// triggered in a group, across to the private flow that completes it.
type Handoff struct {
	OriginScopeID     int64  `json:"originScopeId"`
	OriginDisplayName string `json:"originDisplayName"`
}

// OfferRecord is the finished output of one confirmed setup. It is
// created exactly once, after explicit confirmation, and never mutated
// by this core afterward.
type OfferRecord struct {
	ID                    string
	ItemName              string
	ImageFileID           string
	Price                 string
	MOQ                   string
	ClosingTime           string
	Pickup                string
	PaymentMethod         string
	PaymentDetails        string
	PaymentQRFileID       string
	OriginScopeID         int64
	OriginName            string
	OrganizerID           int64
	OrganizerName         string
	AnnouncementMessageID int64
	CreatedAt             string
}
