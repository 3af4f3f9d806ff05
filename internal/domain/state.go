package domain

// State is one position in the setup conversation. The zero value means
// the participant never started (or was fully reset); StateEnded is a
// stored, distinct terminal marker so a later load cannot resurrect a
// stale mid-flow state.
type State string

const (
	StateNone                State = ""
	StateAskingItem          State = "asking_item"
	StateAskingImageChoice   State = "asking_image_choice"
	StateHandlingImageUpload State = "handling_image_upload"
	StateAskingPrice         State = "asking_price"
	StateAskingMOQ           State = "asking_moq"
	StateAskingClosingTime   State = "asking_closing_time"
	StateAskingPickup        State = "asking_pickup"
	StateAskingPaymentChoice State = "asking_payment_choice"
	StateAskingPaymentDetail State = "asking_payment_details"
	StateAskingConfirmation  State = "asking_confirmation"
	StateEnded               State = "ended"
)

// Active reports whether the state marks a live mid-flow conversation.
func (s State) Active() bool {
	return s != StateNone && s != StateEnded
}

// Scratch accumulates a participant's answers for one setup attempt.
// It is cleared at the start and at every termination of an attempt.
type Scratch map[string]string

// Scratch keys.
const (
	KeyItemName       = "item_name"
	KeyImageFileID    = "image_file_id"
	KeyPrice          = "price"
	KeyMOQ            = "moq"
	KeyClosingTime    = "closing_time"
	KeyPickup         = "pickup"
	KeyPaymentMethod  = "payment_method"
	KeyPaymentDetails = "payment_details"
	KeyPaymentQRID    = "payment_qr_file_id"
	KeyOriginScopeID  = "origin_scope_id"
	KeyOriginName     = "origin_name"
)
