package engine

import (
	"fmt"
	"strings"

	"groupbuy-bot/internal/domain"
)

// Commands and button tokens. These are fixed protocol constants, not
// configuration.
const (
	cmdNewBuy             = "/newbuy"
	cmdCancel             = "/cancel"
	cmdSkipImage          = "/skip_image"
	cmdSkipPaymentDetails = "/skip_payment_details"

	tokenStartSetup    = "start_setup"
	tokenImageUpload   = "img_upload"
	tokenImageSkip     = "img_skip"
	tokenPayDigital    = "pay_digital"
	tokenPayManual     = "pay_manual"
	tokenConfirmPost   = "confirm_post"
	tokenConfirmCancel = "confirm_cancel"

	paymentDigital = "Digital"
	paymentManual  = "Manual"
)

const (
	promptFirstQuestion = "Let's set up your group buy!\n\nFirst, what are you selling?"
	promptBeginHandoff  = "Okay, let's begin!\n\nWhat are you selling?"
	promptPrice         = "What’s the price per unit? (e.g., $18 or 18.50)"
	promptImageNow      = "Okay, please upload the product image now."
	promptImageSkipped  = "Okay, skipping image upload."
	promptImageInvalid  = "That doesn't look like an image. Please upload a photo or type /skip_image to continue without one."
	promptImageReceived = "Image received!"
	promptPayDetails    = "Okay, digital payment selected.\n\nPlease upload your PayNow QR code image, or reply with your PayNow UEN / Phone number.\n(This will be shown to buyers. Type /skip_payment_details if you want to add this later.)"
	promptPayManualOK   = "Okay, payment will be collected manually."
	promptPayDetailsBad = "Invalid input. Please upload a PayNow QR image, enter your UEN/Phone number, or type /skip_payment_details."
	promptQRReceived    = "PayNow QR received."
	promptDetailsNoted  = "PayNow details received."
	promptSkipDetails   = "Okay, skipping payment details for now."
	promptCancelled     = "Okay, the group buy setup has been cancelled."
	promptLostContext   = "Sorry, something unexpected happened or I lost track of our conversation. 🤔\nPlease restart the process using /newbuy if you were in the middle of setup."
	promptLostSimple    = "Sorry, something went wrong. Please use /newbuy to restart."
	promptChooseButton  = "Please use one of the buttons above to choose."
	promptNeedText      = "Please reply with a text answer."
	promptQRCaption     = "PayNow QR for payment."
)

func imageChoiceButtons() [][]domain.Button {
	return [][]domain.Button{{
		{Text: "Upload Image", Data: tokenImageUpload},
		{Text: "Skip", Data: tokenImageSkip},
	}}
}

func paymentChoiceButtons() [][]domain.Button {
	return [][]domain.Button{{
		{Text: "Digital Payment (PayNow)", Data: tokenPayDigital},
		{Text: "Manual Collection", Data: tokenPayManual},
	}}
}

func confirmationButtons() [][]domain.Button {
	return [][]domain.Button{{
		{Text: "✅ Post Group Buy", Data: tokenConfirmPost},
		{Text: "❌ Cancel Setup", Data: tokenConfirmCancel},
	}}
}

func startSetupButtons() [][]domain.Button {
	return [][]domain.Button{{
		{Text: "🚀 Start Setup", Data: tokenStartSetup},
	}}
}

func itemPrompt(itemName string) string {
	return fmt.Sprintf("Got it: **%s**\n\nWould you like to upload a product image?", itemName)
}

func moqPrompt(price string) string {
	return fmt.Sprintf("Price set: **%s**\n\nWhat’s the minimum order quantity (MOQ)?\n(Reply with a number, or type 'No MOQ')", price)
}

func closingTimePrompt(moq string) string {
	return fmt.Sprintf("MOQ set: **%s**\n\nWhen should we close this group buy?\n(e.g., Sat 8pm, or 24 Apr 10pm)", moq)
}

func pickupPrompt(closing string) string {
	return fmt.Sprintf("Closing time: **%s**\n\nWhere is the pickup location?\n(e.g., Lobby A, Sat 4–6pm or I will deliver to units.)", closing)
}

func paymentPrompt(pickup string) string {
	return fmt.Sprintf("Pickup location: **%s**\n\nHow would you like to collect payment?", pickup)
}

func handoffDMText(firstName, groupName string) string {
	return fmt.Sprintf("Hi %s! You started a new group buy in '%s'.\n\nClick the button below to start setting it up here.", firstName, groupName)
}

func handoffGroupSuccess(name string) string {
	return fmt.Sprintf("Okay %s, I've sent you a DM to continue setting up the group buy!", name)
}

func handoffGroupRemediation(name string) string {
	return fmt.Sprintf("Sorry %s, I couldn't send you a DM. Please start a chat with me directly and then send /newbuy there to continue.", name)
}

// summaryText renders the review shown before confirmation.
func summaryText(s domain.Scratch, originName string) string {
	var b strings.Builder
	b.WriteString("Okay, let's review your group buy:\n\n")
	fmt.Fprintf(&b, "**Item:** %s\n", valueOr(s, domain.KeyItemName))
	fmt.Fprintf(&b, "**Image:** %s\n", yesNo(hasImage(s)))
	fmt.Fprintf(&b, "**Price:** %s\n", valueOr(s, domain.KeyPrice))
	fmt.Fprintf(&b, "**MOQ:** %s\n", valueOr(s, domain.KeyMOQ))
	fmt.Fprintf(&b, "**Closing:** %s\n", valueOr(s, domain.KeyClosingTime))
	fmt.Fprintf(&b, "**Pickup:** %s\n", valueOr(s, domain.KeyPickup))
	fmt.Fprintf(&b, "**Payment:** %s", valueOr(s, domain.KeyPaymentMethod))
	if s[domain.KeyPaymentMethod] == paymentDigital {
		fmt.Fprintf(&b, " (%s)", valueOr(s, domain.KeyPaymentDetails))
	}
	fmt.Fprintf(&b, "\n\nI'll post this in **%s**.\n\nReady to go?", originName)
	return b.String()
}

// announcementText renders the post published to the origin scope.
func announcementText(rec domain.OfferRecord) string {
	var b strings.Builder
	b.WriteString("🎉 **New Group Buy!** 🎉\n\n")
	fmt.Fprintf(&b, "**Item:** %s\n", rec.ItemName)
	fmt.Fprintf(&b, "**Price:** %s\n", rec.Price)
	fmt.Fprintf(&b, "**MOQ:** %s\n", rec.MOQ)
	fmt.Fprintf(&b, "**Closing:** %s\n", rec.ClosingTime)
	fmt.Fprintf(&b, "**Pickup/Delivery:** %s\n", rec.Pickup)
	fmt.Fprintf(&b, "**Payment:** %s", rec.PaymentMethod)
	if rec.PaymentMethod == paymentDigital {
		fmt.Fprintf(&b, " (%s)", rec.PaymentDetails)
	}
	fmt.Fprintf(&b, "\n\nOrganized by: %s\n\nReact to join or ask questions below! 👇", rec.OrganizerName)
	return b.String()
}

func confirmPosted(itemName string) string {
	return fmt.Sprintf("✅ Done! I've posted the group buy for '%s' in the group.", itemName)
}

func confirmCompletedNoGroup(itemName string) string {
	return fmt.Sprintf("✅ Setup complete! Group buy for '%s' is ready.", itemName)
}

const (
	confirmPostFailed    = "❌ Error: I couldn't post to the group. Please ensure I have permission to send messages there."
	confirmPublishFailed = "❌ An error occurred saving the group buy. Please try again later."
)

func valueOr(s domain.Scratch, key string) string {
	if v := strings.TrimSpace(s[key]); v != "" {
		return v
	}
	return domain.NotSet
}

func hasImage(s domain.Scratch) bool {
	v := s[domain.KeyImageFileID]
	return v != "" && v != domain.NotSet
}

func yesNo(b bool) string {
	if b {
		return "Yes"
	}
	return "No"
}

// command extracts a leading slash command from message text, dropping
// any @botname suffix. Returns "" when the text is not a command.
func command(text string) string {
	fields := strings.Fields(strings.TrimSpace(text))
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd)
}
