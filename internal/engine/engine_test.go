package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"groupbuy-bot/internal/domain"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeStore struct {
	scratch   map[string]domain.Scratch
	instances map[string]domain.State
	lastName  string
	drops     []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		scratch:   map[string]domain.Scratch{},
		instances: map[string]domain.State{},
	}
}

func (f *fakeStore) LoadAllScratch(_ context.Context) map[string]domain.Scratch {
	out := make(map[string]domain.Scratch, len(f.scratch))
	for pid, s := range f.scratch {
		cp := make(domain.Scratch, len(s))
		for k, v := range s {
			cp[k] = v
		}
		out[pid] = cp
	}
	return out
}

func (f *fakeStore) SaveScratch(_ context.Context, participantID string, data domain.Scratch) {
	cp := make(domain.Scratch, len(data))
	for k, v := range data {
		cp[k] = v
	}
	f.scratch[participantID] = cp
}

func (f *fakeStore) LoadAllInstances(_ context.Context, name string) map[string]domain.State {
	f.lastName = name
	out := make(map[string]domain.State, len(f.instances))
	for pid, st := range f.instances {
		out[pid] = st
	}
	return out
}

func (f *fakeStore) SaveInstance(_ context.Context, name, participantID string, state domain.State) {
	f.lastName = name
	f.instances[participantID] = state
}

func (f *fakeStore) DropParticipant(_ context.Context, participantID, name string) {
	f.lastName = name
	f.drops = append(f.drops, participantID)
	delete(f.instances, participantID)
	f.scratch[participantID] = domain.Scratch{}
}

type sentMessage struct {
	chatID  int64
	text    string
	buttons [][]domain.Button
}

type sentPhoto struct {
	chatID  int64
	fileID  string
	caption string
}

type fakeMessenger struct {
	sent      []sentMessage
	photos    []sentPhoto
	edits     []sentMessage
	delivered []sentMessage // sends and edits, in order
	answered  []string

	sendErrFor map[int64]error
	photoErr   error
	editErr    error
	nextID     int64
}

func (f *fakeMessenger) SendMessage(_ context.Context, chatID int64, text string, buttons [][]domain.Button) (int64, error) {
	if err := f.sendErrFor[chatID]; err != nil {
		return 0, err
	}
	f.sent = append(f.sent, sentMessage{chatID: chatID, text: text, buttons: buttons})
	f.delivered = append(f.delivered, sentMessage{chatID: chatID, text: text, buttons: buttons})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) SendPhoto(_ context.Context, chatID int64, fileID, caption string) (int64, error) {
	if f.photoErr != nil {
		return 0, f.photoErr
	}
	f.photos = append(f.photos, sentPhoto{chatID: chatID, fileID: fileID, caption: caption})
	f.nextID++
	return f.nextID, nil
}

func (f *fakeMessenger) EditMessageText(_ context.Context, chatID, messageID int64, text string, buttons [][]domain.Button) error {
	if f.editErr != nil {
		return f.editErr
	}
	f.edits = append(f.edits, sentMessage{chatID: chatID, text: text, buttons: buttons})
	f.delivered = append(f.delivered, sentMessage{chatID: chatID, text: text, buttons: buttons})
	return nil
}

func (f *fakeMessenger) AnswerCallbackQuery(_ context.Context, callbackID string) error {
	f.answered = append(f.answered, callbackID)
	return nil
}

func (f *fakeMessenger) lastTo(chatID int64) string {
	for i := len(f.delivered) - 1; i >= 0; i-- {
		if f.delivered[i].chatID == chatID {
			return f.delivered[i].text
		}
	}
	return ""
}

type fakeSink struct {
	recs []domain.OfferRecord
	err  error
}

func (f *fakeSink) Publish(_ context.Context, rec domain.OfferRecord) error {
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, rec)
	return nil
}

type fakeBridge struct {
	records map[int64]domain.Handoff
	puts    int
	deletes int
}

func newFakeBridge() *fakeBridge {
	return &fakeBridge{records: map[int64]domain.Handoff{}}
}

func (f *fakeBridge) Put(_ context.Context, participantID int64, h domain.Handoff) {
	f.puts++
	f.records[participantID] = h
}

func (f *fakeBridge) Take(_ context.Context, participantID int64) (domain.Handoff, bool) {
	h, ok := f.records[participantID]
	if ok {
		delete(f.records, participantID)
	}
	return h, ok
}

func (f *fakeBridge) Delete(_ context.Context, participantID int64) {
	f.deletes++
	delete(f.records, participantID)
}

type forbiddenErr struct{}

func (forbiddenErr) Error() string       { return "telegram: unexpected status 403" }
func (forbiddenErr) HTTPStatusCode() int { return 403 }

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type fixture struct {
	store  *fakeStore
	msgr   *fakeMessenger
	sink   *fakeSink
	bridge *fakeBridge
	eng    *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:  newFakeStore(),
		msgr:   &fakeMessenger{sendErrFor: map[int64]error{}},
		sink:   &fakeSink{},
		bridge: newFakeBridge(),
	}
	eng, err := New(f.store, f.msgr, f.sink, f.bridge, "newbuy", nil)
	require.NoError(t, err)
	f.eng = eng
	return f
}

func (f *fixture) handle(ev domain.Event) {
	f.eng.HandleEvent(context.Background(), ev)
}

func (f *fixture) state(pid string) domain.State {
	return f.store.instances[pid]
}

func privateText(pid int64, text string) domain.Event {
	return domain.Event{
		ParticipantID: pid,
		DisplayName:   "Alice",
		ScopeID:       pid,
		ScopeType:     domain.ScopePrivate,
		MessageID:     10,
		Text:          text,
	}
}

func privateCallback(pid int64, data string) domain.Event {
	return domain.Event{
		ParticipantID: pid,
		DisplayName:   "Alice",
		ScopeID:       pid,
		ScopeType:     domain.ScopePrivate,
		MessageID:     11,
		CallbackID:    "cb-1",
		CallbackData:  data,
	}
}

func privatePhoto(pid int64, fileID string) domain.Event {
	return domain.Event{
		ParticipantID: pid,
		DisplayName:   "Alice",
		ScopeID:       pid,
		ScopeType:     domain.ScopePrivate,
		MessageID:     12,
		PhotoFileID:   fileID,
	}
}

func groupText(pid, scopeID int64, title, text string) domain.Event {
	return domain.Event{
		ParticipantID: pid,
		DisplayName:   "Alice",
		ScopeID:       scopeID,
		ScopeType:     domain.ScopeGroup,
		ScopeTitle:    title,
		MessageID:     13,
		Text:          text,
	}
}

func fixedOfferID(t *testing.T, id string) {
	t.Helper()
	orig := newOfferID
	newOfferID = func() string { return id }
	t.Cleanup(func() { newOfferID = orig })
}

// ---------------------------------------------------------------------------
// Constructor
// ---------------------------------------------------------------------------

func TestNew_ValidatesDependencies(t *testing.T) {
	store, msgr, sink, br := newFakeStore(), &fakeMessenger{}, &fakeSink{}, newFakeBridge()

	_, err := New(nil, msgr, sink, br, "newbuy", nil)
	require.Error(t, err)
	_, err = New(store, nil, sink, br, "newbuy", nil)
	require.Error(t, err)
	_, err = New(store, msgr, nil, br, "newbuy", nil)
	require.Error(t, err)
	_, err = New(store, msgr, sink, nil, "newbuy", nil)
	require.Error(t, err)
	_, err = New(store, msgr, sink, br, "", nil)
	require.Error(t, err)
}

// ---------------------------------------------------------------------------
// Full flows
// ---------------------------------------------------------------------------

func TestFullFlow_ManualPayment_NoImage(t *testing.T) {
	fixedOfferID(t, "offer-1")
	f := newFixture(t)

	f.handle(privateText(101, "/newbuy"))
	require.Equal(t, domain.StateAskingItem, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "what are you selling")

	f.handle(privateText(101, "Matcha Latte"))
	require.Equal(t, domain.StateAskingImageChoice, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "Matcha Latte")

	f.handle(privateCallback(101, "img_skip"))
	require.Equal(t, domain.StateAskingPrice, f.state("101"))

	f.handle(privateText(101, "$5"))
	require.Equal(t, domain.StateAskingMOQ, f.state("101"))

	f.handle(privateText(101, "10"))
	require.Equal(t, domain.StateAskingClosingTime, f.state("101"))

	f.handle(privateText(101, "Fri 6pm"))
	require.Equal(t, domain.StateAskingPickup, f.state("101"))

	f.handle(privateText(101, "Lobby"))
	require.Equal(t, domain.StateAskingPaymentChoice, f.state("101"))

	f.handle(privateCallback(101, "pay_manual"))
	require.Equal(t, domain.StateAskingConfirmation, f.state("101"))
	summary := f.msgr.lastTo(101)
	require.Contains(t, summary, "Matcha Latte")
	require.Contains(t, summary, "$5")
	require.Contains(t, summary, "Manual")

	f.handle(privateCallback(101, "confirm_post"))
	require.Equal(t, domain.StateEnded, f.state("101"))
	require.Empty(t, f.store.scratch["101"], "scratch must be emptied on completion")

	require.Len(t, f.sink.recs, 1)
	rec := f.sink.recs[0]
	require.Equal(t, "offer-1", rec.ID)
	require.Equal(t, "Matcha Latte", rec.ItemName)
	require.Equal(t, domain.NotSet, rec.ImageFileID)
	require.Equal(t, "$5", rec.Price)
	require.Equal(t, "10", rec.MOQ)
	require.Equal(t, "Fri 6pm", rec.ClosingTime)
	require.Equal(t, "Lobby", rec.Pickup)
	require.Equal(t, "Manual", rec.PaymentMethod)
	require.Equal(t, domain.NotSet, rec.PaymentDetails)
	require.Equal(t, int64(101), rec.OrganizerID)
	require.Equal(t, "Alice", rec.OrganizerName)
	require.Zero(t, rec.OriginScopeID, "direct private setup carries no origin scope")
	require.NotEmpty(t, rec.CreatedAt)
}

func TestFullFlow_GroupHandoff_DigitalPaymentWithImage(t *testing.T) {
	fixedOfferID(t, "offer-2")
	f := newFixture(t)

	// Trigger in the group: handoff is stored, the DM carries the
	// continue button, the group gets an acknowledgement.
	f.handle(groupText(101, -100123, "Condo Deals", "/newbuy"))
	require.Equal(t, 1, f.bridge.puts)
	require.Contains(t, f.msgr.lastTo(101), "Condo Deals")
	require.Contains(t, f.msgr.lastTo(-100123), "sent you a DM")

	// Continue privately: the handoff record is consumed and seeds the
	// origin context.
	f.handle(privateCallback(101, "start_setup"))
	require.Equal(t, domain.StateAskingItem, f.state("101"))
	require.Empty(t, f.bridge.records)

	f.handle(privateText(101, "Ceramic Mugs"))
	f.handle(privateCallback(101, "img_upload"))
	require.Equal(t, domain.StateHandlingImageUpload, f.state("101"))

	f.handle(privatePhoto(101, "photo-abc"))
	require.Equal(t, domain.StateAskingPrice, f.state("101"))

	f.handle(privateText(101, "$18"))
	f.handle(privateText(101, "No MOQ"))
	f.handle(privateText(101, "24 Apr 10pm"))
	f.handle(privateText(101, "Lobby A, Sat 4-6pm"))

	f.handle(privateCallback(101, "pay_digital"))
	require.Equal(t, domain.StateAskingPaymentDetail, f.state("101"))

	f.handle(privatePhoto(101, "qr-xyz"))
	require.Equal(t, domain.StateAskingConfirmation, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "Condo Deals")

	f.handle(privateCallback(101, "confirm_post"))
	require.Equal(t, domain.StateEnded, f.state("101"))

	// Announcement photo plus the QR photo, both to the origin scope.
	require.Len(t, f.msgr.photos, 2)
	require.Equal(t, int64(-100123), f.msgr.photos[0].chatID)
	require.Equal(t, "photo-abc", f.msgr.photos[0].fileID)
	require.Contains(t, f.msgr.photos[0].caption, "Ceramic Mugs")
	require.Equal(t, "qr-xyz", f.msgr.photos[1].fileID)

	require.Len(t, f.sink.recs, 1)
	rec := f.sink.recs[0]
	require.Equal(t, int64(-100123), rec.OriginScopeID)
	require.Equal(t, "Condo Deals", rec.OriginName)
	require.Equal(t, "photo-abc", rec.ImageFileID)
	require.Equal(t, "Digital", rec.PaymentMethod)
	require.Equal(t, "qr-xyz", rec.PaymentQRFileID)
	require.NotZero(t, rec.AnnouncementMessageID)
}

// ---------------------------------------------------------------------------
// Group entry
// ---------------------------------------------------------------------------

func TestGroupChatter_Ignored(t *testing.T) {
	f := newFixture(t)
	f.handle(groupText(101, -100123, "Condo Deals", "anyone up for bubble tea?"))
	require.Empty(t, f.msgr.sent)
	require.Zero(t, f.bridge.puts)
	require.Empty(t, f.store.instances)
}

func TestGroupTrigger_DMForbidden_CleansUpAndRemediates(t *testing.T) {
	f := newFixture(t)
	f.msgr.sendErrFor[101] = forbiddenErr{}

	f.handle(groupText(101, -100123, "Condo Deals", "/newbuy"))

	require.Equal(t, 1, f.bridge.deletes)
	require.Empty(t, f.bridge.records, "failed handoff must leave no residue")
	require.Contains(t, f.msgr.lastTo(-100123), "start a chat with me directly")
}

func TestGroupTrigger_UntitledGroup_UsesFallbackName(t *testing.T) {
	f := newFixture(t)
	f.handle(groupText(101, -100123, "", "/newbuy"))
	require.Contains(t, f.msgr.lastTo(101), "this group")
}

func TestStartSetup_MissingHandoff_ProceedsWithoutOrigin(t *testing.T) {
	fixedOfferID(t, "offer-3")
	f := newFixture(t)

	f.handle(privateCallback(101, "start_setup"))
	require.Equal(t, domain.StateAskingItem, f.state("101"))
	require.Empty(t, f.store.scratch["101"])
}

// ---------------------------------------------------------------------------
// Termination and recovery
// ---------------------------------------------------------------------------

func TestCancel_MidFlow_EndsAndClears(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingPrice
	f.store.scratch["101"] = domain.Scratch{domain.KeyItemName: "Matcha Latte"}

	f.handle(privateText(101, "/cancel"))

	require.Equal(t, domain.StateEnded, f.state("101"))
	require.Empty(t, f.store.scratch["101"])
	require.Contains(t, f.msgr.lastTo(101), "cancelled")
	require.Empty(t, f.sink.recs)
}

func TestLostContext_NoInstance_ResetsAndPointsToRestart(t *testing.T) {
	f := newFixture(t)

	f.handle(privateText(101, "hello?"))

	require.Contains(t, f.store.drops, "101")
	require.Equal(t, domain.StateNone, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "/newbuy")
}

func TestReplayedConfirm_AfterEnd_NoSecondRecord(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateEnded

	f.handle(privateCallback(101, "confirm_post"))

	require.Empty(t, f.sink.recs, "a replayed confirmation must not publish again")
	require.Contains(t, f.store.drops, "101")
}

func TestUnknownStoredState_RecoversViaFallback(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.State("garbage")

	f.handle(privateText(101, "anything"))

	require.Contains(t, f.store.drops, "101")
	require.Equal(t, domain.StateNone, f.state("101"))
}

func TestConfirmCancel_EndsWithoutPublishing(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingConfirmation
	f.store.scratch["101"] = domain.Scratch{domain.KeyItemName: "Matcha Latte"}

	f.handle(privateCallback(101, "confirm_cancel"))

	require.Equal(t, domain.StateEnded, f.state("101"))
	require.Empty(t, f.sink.recs)
}

// ---------------------------------------------------------------------------
// Shape mismatches
// ---------------------------------------------------------------------------

func TestAskingPrice_PhotoRepromptsInPlace(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingPrice

	f.handle(privatePhoto(101, "photo-abc"))

	require.Equal(t, domain.StateAskingPrice, f.state("101"))
	require.NotContains(t, f.store.scratch["101"], domain.KeyPrice)
	require.Contains(t, f.msgr.lastTo(101), "text answer")
}

func TestImageChoice_TextRepromptsWithButtons(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingImageChoice

	f.handle(privateText(101, "yes please"))

	require.Equal(t, domain.StateAskingImageChoice, f.state("101"))
	last := f.msgr.sent[len(f.msgr.sent)-1]
	require.NotEmpty(t, last.buttons)
}

func TestImageUpload_InvalidInputReprompts(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateHandlingImageUpload

	f.handle(privateText(101, "here you go"))

	require.Equal(t, domain.StateHandlingImageUpload, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "/skip_image")
}

func TestImageUpload_SkipCommand(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateHandlingImageUpload

	f.handle(privateText(101, "/skip_image"))

	require.Equal(t, domain.StateAskingPrice, f.state("101"))
	require.Equal(t, domain.NotSet, f.store.scratch["101"][domain.KeyImageFileID])
}

func TestPaymentDetails_SkipCommand(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingPaymentDetail
	f.store.scratch["101"] = domain.Scratch{domain.KeyPaymentMethod: "Digital"}

	f.handle(privateText(101, "/skip_payment_details"))

	require.Equal(t, domain.StateAskingConfirmation, f.state("101"))
	require.Equal(t, domain.NotSet, f.store.scratch["101"][domain.KeyPaymentDetails])
}

func TestPaymentDetails_TextDetails(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingPaymentDetail
	f.store.scratch["101"] = domain.Scratch{domain.KeyPaymentMethod: "Digital"}

	f.handle(privateText(101, "UEN 201912345A"))

	require.Equal(t, domain.StateAskingConfirmation, f.state("101"))
	require.Equal(t, "UEN 201912345A", f.store.scratch["101"][domain.KeyPaymentDetails])
}

// ---------------------------------------------------------------------------
// Delivery and publish failures
// ---------------------------------------------------------------------------

func TestConfirm_AnnounceFails_OutcomeReportsError(t *testing.T) {
	fixedOfferID(t, "offer-4")
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingConfirmation
	f.store.scratch["101"] = domain.Scratch{
		domain.KeyItemName:      "Matcha Latte",
		domain.KeyOriginScopeID: "-100123",
		domain.KeyOriginName:    "Condo Deals",
		domain.KeyPaymentMethod: "Manual",
	}
	f.msgr.sendErrFor[-100123] = errors.New("chat not found")

	f.handle(privateCallback(101, "confirm_post"))

	require.Equal(t, domain.StateEnded, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "couldn't post")
	// The record is still published; only the announcement failed.
	require.Len(t, f.sink.recs, 1)
	require.Zero(t, f.sink.recs[0].AnnouncementMessageID)
}

func TestConfirm_PublishFails_OutcomeReportsError(t *testing.T) {
	fixedOfferID(t, "offer-5")
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingConfirmation
	f.store.scratch["101"] = domain.Scratch{domain.KeyItemName: "Matcha Latte"}
	f.sink.err = errors.New("table unavailable")

	f.handle(privateCallback(101, "confirm_post"))

	require.Equal(t, domain.StateEnded, f.state("101"))
	require.Contains(t, f.msgr.lastTo(101), "error occurred saving")
}

func TestCallback_AlwaysAnswered(t *testing.T) {
	f := newFixture(t)
	f.handle(privateCallback(101, "confirm_post"))
	require.Equal(t, []string{"cb-1"}, f.msgr.answered)
}

func TestCallback_EditFallsBackToSend(t *testing.T) {
	f := newFixture(t)
	f.store.instances["101"] = domain.StateAskingImageChoice
	f.msgr.editErr = errors.New("message is not modified")

	f.handle(privateCallback(101, "img_upload"))

	require.Equal(t, domain.StateHandlingImageUpload, f.state("101"))
	require.NotEmpty(t, f.msgr.sent, "failed edit must fall back to a fresh message")
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func TestCommand_Parsing(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/newbuy", "/newbuy"},
		{"/NewBuy", "/newbuy"},
		{"/newbuy@GroupBuyBot", "/newbuy"},
		{"  /cancel  ", "/cancel"},
		{"/newbuy please", "/newbuy"},
		{"newbuy", ""},
		{"", ""},
		{"hello /newbuy", ""},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, command(tc.in), "in=%q", tc.in)
	}
}

func TestSummaryText_DigitalShowsDetails(t *testing.T) {
	s := domain.Scratch{
		domain.KeyItemName:       "Matcha Latte",
		domain.KeyPaymentMethod:  "Digital",
		domain.KeyPaymentDetails: "UEN 201912345A",
	}
	out := summaryText(s, "Condo Deals")
	require.Contains(t, out, "UEN 201912345A")
	require.Contains(t, out, "Condo Deals")
	require.True(t, strings.Contains(out, domain.NotSet), "unanswered fields show the sentinel")
}
