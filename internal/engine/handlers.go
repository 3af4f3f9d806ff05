package engine

import (
	"context"
	"strconv"
	"time"

	"groupbuy-bot/internal/domain"
)

// deliver sends text to the event's scope, editing the originating
// message for button presses. A failed edit falls back to a fresh
// message so the participant is never left without a response.
func (e *Engine) deliver(ctx context.Context, ev domain.Event, text string, buttons [][]domain.Button) error {
	if ev.IsCallback() && ev.MessageID != 0 {
		err := e.msgr.EditMessageText(ctx, ev.ScopeID, ev.MessageID, text, buttons)
		if err == nil {
			return nil
		}
		e.logFailure(ErrorDeliveryFailure, "edit_message", err, ev)
	}
	_, err := e.msgr.SendMessage(ctx, ev.ScopeID, text, buttons)
	return err
}

// say is deliver with the error reduced to a log entry.
func (e *Engine) say(ctx context.Context, ev domain.Event, text string, buttons [][]domain.Button) {
	if err := e.deliver(ctx, ev, text, buttons); err != nil {
		e.logFailure(ErrorDeliveryFailure, "send_message", err, ev)
	}
}

// startPrivate begins a fresh attempt from a direct private trigger.
func (e *Engine) startPrivate(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	clear(scratch)
	e.say(ctx, ev, promptFirstQuestion, nil)
	return domain.StateAskingItem
}

// startFromHandoff begins an attempt from the button sent after a group
// trigger. It consumes the pending handoff record before the first
// question; a missing record (race, duplicate press) is tolerated and
// the flow proceeds without origin context.
func (e *Engine) startFromHandoff(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	h, ok := e.bridge.Take(ctx, ev.ParticipantID)
	clear(scratch)
	if ok {
		scratch[domain.KeyOriginScopeID] = strconv.FormatInt(h.OriginScopeID, 10)
		scratch[domain.KeyOriginName] = h.OriginDisplayName
	} else {
		e.log.Warn("no pending handoff, starting without origin context", "participant", ev.ParticipantID)
	}
	e.say(ctx, ev, promptBeginHandoff, nil)
	return domain.StateAskingItem
}

// startFromGroup is the handoff write side: it stores the origin
// context and invites the participant to continue privately. If the
// private notification cannot be delivered the handoff record is
// deleted immediately and the group is told how to remediate.
func (e *Engine) startFromGroup(ctx context.Context, ev domain.Event) {
	pid := participantKey(ev.ParticipantID)
	e.store.SaveScratch(ctx, pid, domain.Scratch{})

	groupName := ev.ScopeTitle
	if groupName == "" {
		groupName = "this group"
	}
	e.bridge.Put(ctx, ev.ParticipantID, domain.Handoff{
		OriginScopeID:     ev.ScopeID,
		OriginDisplayName: groupName,
	})

	_, err := e.msgr.SendMessage(ctx, ev.ParticipantID, handoffDMText(ev.DisplayName, groupName), startSetupButtons())
	if err != nil {
		e.bridge.Delete(ctx, ev.ParticipantID)
		if isForbidden(err) {
			e.logFailure(ErrorDeliveryFailure, "handoff_dm_forbidden", err, ev)
		} else {
			e.logFailure(ErrorDeliveryFailure, "handoff_dm", err, ev)
		}
		if _, err := e.msgr.SendMessage(ctx, ev.ScopeID, handoffGroupRemediation(ev.DisplayName), nil); err != nil {
			e.logFailure(ErrorDeliveryFailure, "handoff_remediation", err, ev)
		}
		return
	}
	if _, err := e.msgr.SendMessage(ctx, ev.ScopeID, handoffGroupSuccess(ev.DisplayName), nil); err != nil {
		e.logFailure(ErrorDeliveryFailure, "handoff_group_ack", err, ev)
	}
}

func (e *Engine) onItem(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	if !isPlainText(ev) {
		e.say(ctx, ev, promptNeedText, nil)
		return domain.StateAskingItem
	}
	scratch[domain.KeyItemName] = ev.Text
	e.say(ctx, ev, itemPrompt(ev.Text), imageChoiceButtons())
	return domain.StateAskingImageChoice
}

func (e *Engine) onImageChoice(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	switch ev.CallbackData {
	case tokenImageUpload:
		e.say(ctx, ev, promptImageNow, nil)
		return domain.StateHandlingImageUpload
	case tokenImageSkip:
		scratch[domain.KeyImageFileID] = domain.NotSet
		e.say(ctx, ev, promptImageSkipped, nil)
		if _, err := e.msgr.SendMessage(ctx, ev.ScopeID, promptPrice, nil); err != nil {
			e.logFailure(ErrorDeliveryFailure, "send_message", err, ev)
		}
		return domain.StateAskingPrice
	default:
		e.logFailure(ErrorInputMismatch, "image_choice", nil, ev)
		e.say(ctx, ev, promptChooseButton, imageChoiceButtons())
		return domain.StateAskingImageChoice
	}
}

func (e *Engine) onImageUpload(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	switch {
	case ev.PhotoFileID != "":
		scratch[domain.KeyImageFileID] = ev.PhotoFileID
		e.say(ctx, ev, promptImageReceived, nil)
		e.say(ctx, ev, promptPrice, nil)
		return domain.StateAskingPrice
	case command(ev.Text) == cmdSkipImage:
		scratch[domain.KeyImageFileID] = domain.NotSet
		e.say(ctx, ev, promptImageSkipped, nil)
		e.say(ctx, ev, promptPrice, nil)
		return domain.StateAskingPrice
	default:
		e.logFailure(ErrorInputMismatch, "image_upload", nil, ev)
		e.say(ctx, ev, promptImageInvalid, nil)
		return domain.StateHandlingImageUpload
	}
}

// onTextAnswer handles the plain free-text questions: store the answer
// under key and move on, or re-prompt in place on a shape mismatch.
func (e *Engine) onTextAnswer(ctx context.Context, ev domain.Event, scratch domain.Scratch, key string, self, next domain.State, prompt func(string) string) domain.State {
	if !isPlainText(ev) {
		e.logFailure(ErrorInputMismatch, string(self), nil, ev)
		e.say(ctx, ev, promptNeedText, nil)
		return self
	}
	scratch[key] = ev.Text
	e.say(ctx, ev, prompt(ev.Text), nil)
	return next
}

func (e *Engine) onPickup(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	if !isPlainText(ev) {
		e.logFailure(ErrorInputMismatch, "pickup", nil, ev)
		e.say(ctx, ev, promptNeedText, nil)
		return domain.StateAskingPickup
	}
	scratch[domain.KeyPickup] = ev.Text
	e.say(ctx, ev, paymentPrompt(ev.Text), paymentChoiceButtons())
	return domain.StateAskingPaymentChoice
}

func (e *Engine) onPaymentChoice(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	switch ev.CallbackData {
	case tokenPayDigital:
		scratch[domain.KeyPaymentMethod] = paymentDigital
		e.say(ctx, ev, promptPayDetails, nil)
		return domain.StateAskingPaymentDetail
	case tokenPayManual:
		scratch[domain.KeyPaymentMethod] = paymentManual
		scratch[domain.KeyPaymentDetails] = domain.NotSet
		scratch[domain.KeyPaymentQRID] = domain.NotSet
		e.say(ctx, ev, promptPayManualOK, nil)
		return e.showConfirmation(ctx, ev, scratch)
	default:
		e.logFailure(ErrorInputMismatch, "payment_choice", nil, ev)
		e.say(ctx, ev, promptChooseButton, paymentChoiceButtons())
		return domain.StateAskingPaymentChoice
	}
}

func (e *Engine) onPaymentDetails(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	switch {
	case ev.PhotoFileID != "":
		scratch[domain.KeyPaymentDetails] = "PayNow QR code provided"
		scratch[domain.KeyPaymentQRID] = ev.PhotoFileID
		e.say(ctx, ev, promptQRReceived, nil)
	case command(ev.Text) == cmdSkipPaymentDetails:
		scratch[domain.KeyPaymentDetails] = domain.NotSet
		scratch[domain.KeyPaymentQRID] = domain.NotSet
		e.say(ctx, ev, promptSkipDetails, nil)
	case isPlainText(ev):
		scratch[domain.KeyPaymentDetails] = ev.Text
		scratch[domain.KeyPaymentQRID] = domain.NotSet
		e.say(ctx, ev, promptDetailsNoted, nil)
	default:
		e.logFailure(ErrorInputMismatch, "payment_details", nil, ev)
		e.say(ctx, ev, promptPayDetailsBad, nil)
		return domain.StateAskingPaymentDetail
	}
	return e.showConfirmation(ctx, ev, scratch)
}

// showConfirmation renders the review summary with post/cancel buttons.
func (e *Engine) showConfirmation(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	originName := scratch[domain.KeyOriginName]
	if originName == "" {
		originName = "the group"
	}
	if _, err := e.msgr.SendMessage(ctx, ev.ScopeID, summaryText(scratch, originName), confirmationButtons()); err != nil {
		e.logFailure(ErrorDeliveryFailure, "show_confirmation", err, ev)
	}
	return domain.StateAskingConfirmation
}

func (e *Engine) onConfirmation(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	switch ev.CallbackData {
	case tokenConfirmPost:
		return e.complete(ctx, ev, scratch)
	case tokenConfirmCancel:
		e.say(ctx, ev, promptCancelled, nil)
		return domain.StateEnded
	default:
		e.logFailure(ErrorInputMismatch, "confirmation", nil, ev)
		e.say(ctx, ev, promptChooseButton, confirmationButtons())
		return domain.StateAskingConfirmation
	}
}

// complete assembles the record, announces it to the origin scope,
// hands it to the sink, and reports the outcome. This is the only
// place an offer record is ever created.
func (e *Engine) complete(ctx context.Context, ev domain.Event, scratch domain.Scratch) domain.State {
	rec := e.assembleRecord(ev, scratch)

	outcome := confirmCompletedNoGroup(rec.ItemName)
	if rec.OriginScopeID != 0 {
		caption := announcementText(rec)
		var msgID int64
		var err error
		if hasImage(scratch) {
			msgID, err = e.msgr.SendPhoto(ctx, rec.OriginScopeID, rec.ImageFileID, caption)
		} else {
			msgID, err = e.msgr.SendMessage(ctx, rec.OriginScopeID, caption, nil)
		}
		if err != nil {
			e.logFailure(ErrorDeliveryFailure, "announce_offer", err, ev)
			outcome = confirmPostFailed
		} else {
			rec.AnnouncementMessageID = msgID
			outcome = confirmPosted(rec.ItemName)
			if rec.PaymentMethod == paymentDigital && rec.PaymentQRFileID != domain.NotSet {
				if _, err := e.msgr.SendPhoto(ctx, rec.OriginScopeID, rec.PaymentQRFileID, promptQRCaption); err != nil {
					e.logFailure(ErrorDeliveryFailure, "announce_qr", err, ev)
				}
			}
		}
	}

	if err := e.offers.Publish(ctx, rec); err != nil {
		e.logFailure(ErrorPersistenceFailure, "publish_offer", err, ev)
		outcome = confirmPublishFailed
	}

	e.say(ctx, ev, outcome, nil)
	return domain.StateEnded
}

// cancel ends the conversation from any state.
func (e *Engine) cancel(ctx context.Context, ev domain.Event) domain.State {
	e.say(ctx, ev, promptCancelled, nil)
	return domain.StateEnded
}

// lostContext is the universal fallback: notify with the restart
// trigger and fully reset. It fires even when no instance resolves at
// all, so no event is ever silently dropped.
func (e *Engine) lostContext(ctx context.Context, ev domain.Event) domain.State {
	e.logFailure(ErrorLostContext, "unmatched_event", nil, ev)
	if err := e.deliver(ctx, ev, promptLostContext, nil); err != nil {
		if _, err := e.msgr.SendMessage(ctx, ev.ScopeID, promptLostSimple, nil); err != nil {
			e.logFailure(ErrorDeliveryFailure, "lost_context_notify", err, ev)
		}
	}
	return domain.StateNone
}

// assembleRecord builds the offer from scratch state. Optional fields
// the organizer never supplied carry the explicit sentinel.
func (e *Engine) assembleRecord(ev domain.Event, scratch domain.Scratch) domain.OfferRecord {
	originScopeID, _ := strconv.ParseInt(scratch[domain.KeyOriginScopeID], 10, 64)
	return domain.OfferRecord{
		ID:              newOfferID(),
		ItemName:        valueOr(scratch, domain.KeyItemName),
		ImageFileID:     valueOr(scratch, domain.KeyImageFileID),
		Price:           valueOr(scratch, domain.KeyPrice),
		MOQ:             valueOr(scratch, domain.KeyMOQ),
		ClosingTime:     valueOr(scratch, domain.KeyClosingTime),
		Pickup:          valueOr(scratch, domain.KeyPickup),
		PaymentMethod:   valueOr(scratch, domain.KeyPaymentMethod),
		PaymentDetails:  valueOr(scratch, domain.KeyPaymentDetails),
		PaymentQRFileID: valueOr(scratch, domain.KeyPaymentQRID),
		OriginScopeID:   originScopeID,
		OriginName:      valueOr(scratch, domain.KeyOriginName),
		OrganizerID:     ev.ParticipantID,
		OrganizerName:   ev.DisplayName,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
	}
}

// isPlainText reports whether the event is a non-command text message.
func isPlainText(ev domain.Event) bool {
	return ev.Text != "" && command(ev.Text) == "" && !ev.IsCallback() && ev.PhotoFileID == ""
}
