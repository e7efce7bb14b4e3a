// README: Payment reconciliation tests against fake processor and bookings.
package payment

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"hail/internal/modules/booking"
	"hail/internal/types"
)

type fakeProcessor struct {
	intents map[string]*Intent
	refunds []string

	created int
	failGet bool
}

func (p *fakeProcessor) CreateIntent(_ context.Context, amount int64, currency string, _ map[string]string) (*Intent, error) {
	p.created++
	id := fmt.Sprintf("pi_%d", p.created)
	in := &Intent{ID: id, ClientSecret: id + "_secret", Amount: amount, Currency: currency, Status: IntentRequiresPaymentMethod}
	p.intents[id] = in
	return in, nil
}

func (p *fakeProcessor) RetrieveIntent(_ context.Context, id string) (*Intent, error) {
	if p.failGet {
		return nil, errors.New("stripe is down")
	}
	in, ok := p.intents[id]
	if !ok {
		return nil, errors.New("no such intent")
	}
	return in, nil
}

func (p *fakeProcessor) Refund(_ context.Context, intentID, _ string) (*Refund, error) {
	p.refunds = append(p.refunds, intentID)
	return &Refund{ID: "re_" + intentID, Status: "succeeded", Amount: p.intents[intentID].Amount}, nil
}

type fakeBookings struct {
	byID map[types.ID]*booking.Booking

	released []types.ID
}

func (f *fakeBookings) Get(_ context.Context, id types.ID) (*booking.Booking, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, booking.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (f *fakeBookings) SetPaymentIntent(_ context.Context, id types.ID, intentID string) error {
	b := f.byID[id]
	b.PaymentIntentID = &intentID
	b.PaymentStatus = booking.PaymentProcessing
	return nil
}

func (f *fakeBookings) MarkPaid(_ context.Context, id types.ID, intentID string) error {
	b := f.byID[id]
	if b.PaymentIntentID != nil && *b.PaymentIntentID == intentID {
		b.PaymentStatus = booking.PaymentPaid
	}
	return nil
}

func (f *fakeBookings) MarkRefunded(_ context.Context, id types.ID, from booking.Status, version int, driverID *types.ID, _ *booking.Event) (bool, error) {
	b := f.byID[id]
	if b.Status != from || b.StatusVersion != version {
		return false, nil
	}
	b.Status = booking.StatusCancelled
	b.PaymentStatus = booking.PaymentRefunded
	if driverID != nil {
		f.released = append(f.released, *driverID)
	}
	return true, nil
}

type fakeConfirmer struct {
	bookings  *fakeBookings
	confirmed []booking.ConfirmCommand
}

func (f *fakeConfirmer) Confirm(_ context.Context, cmd booking.ConfirmCommand) error {
	f.confirmed = append(f.confirmed, cmd)
	if f.bookings != nil {
		f.bookings.byID[cmd.BookingID].Status = booking.StatusConfirmed
	}
	return nil
}

type fakeSearcher struct {
	triggered []types.ID
}

func (f *fakeSearcher) Trigger(_ context.Context, id types.ID) {
	f.triggered = append(f.triggered, id)
}

func newFixture(b *booking.Booking) (*Service, *fakeProcessor, *fakeBookings) {
	p := &fakeProcessor{intents: map[string]*Intent{}}
	f := &fakeBookings{byID: map[types.ID]*booking.Booking{b.ID: b}}
	return NewService(f, p, nil, nil, nil), p, f
}

func cardBooking() *booking.Booking {
	return &booking.Booking{
		ID:            "b1",
		PassengerID:   "p1",
		Status:        booking.StatusConfirmed,
		TotalCost:     types.Money{Amount: 1800, Currency: "usd"},
		PaymentStatus: booking.PaymentUnpaid,
		PaymentMethod: booking.PayCard,
	}
}

func passenger() types.Actor { return types.Actor{ID: "p1", Role: types.RolePassenger} }

func TestIntentCreatedOnce(t *testing.T) {
	svc, proc, _ := newFixture(cardBooking())
	ctx := context.Background()

	first, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if first.Amount != 1800 {
		t.Fatalf("expected server-side amount 1800, got %d", first.Amount)
	}

	second, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("reuse intent: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected intent reuse, got %s then %s", first.ID, second.ID)
	}
	if proc.created != 1 {
		t.Fatalf("expected 1 created intent, got %d", proc.created)
	}
}

func TestIntentReplacedAfterResolution(t *testing.T) {
	svc, proc, _ := newFixture(cardBooking())
	ctx := context.Background()

	first, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	proc.intents[first.ID].Status = IntentCanceled

	second, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("second intent: %v", err)
	}
	if second.ID == first.ID {
		t.Fatal("canceled intent must not be reused")
	}
}

func TestChargedIntentNeverReplaced(t *testing.T) {
	svc, proc, store := newFixture(cardBooking())
	ctx := context.Background()

	first, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	proc.intents[first.ID].Status = IntentSucceeded

	_, err = svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid on a charged booking, got %v", err)
	}
	if proc.created != 1 {
		t.Fatalf("charged booking must not mint a second intent, got %d", proc.created)
	}

	b := store.byID["b1"]
	if b.PaymentIntentID == nil || *b.PaymentIntentID != first.ID {
		t.Fatalf("charged intent %s must stay on the booking, got %v", first.ID, b.PaymentIntentID)
	}
	if b.PaymentStatus != booking.PaymentPaid {
		t.Fatalf("observed charge must settle the booking, got %s", b.PaymentStatus)
	}
}

func TestPaymentConfirmsPendingBooking(t *testing.T) {
	b := cardBooking()
	b.Status = booking.StatusPending
	proc := &fakeProcessor{intents: map[string]*Intent{}}
	store := &fakeBookings{byID: map[types.ID]*booking.Booking{b.ID: b}}
	conf := &fakeConfirmer{bookings: store}
	search := &fakeSearcher{}
	svc := NewService(store, proc, conf, search, nil)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	proc.intents[intent.ID].Status = IntentSucceeded

	_, err = svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
	if len(conf.confirmed) != 1 {
		t.Fatalf("expected one confirmation, got %d", len(conf.confirmed))
	}
	cmd := conf.confirmed[0]
	if cmd.Actor.Role != types.RoleSystem || cmd.Note != "payment_confirmed" {
		t.Fatalf("unexpected confirm command: %+v", cmd)
	}
	if len(search.triggered) != 1 || search.triggered[0] != "b1" {
		t.Fatalf("expected driver search triggered for b1, got %v", search.triggered)
	}
	got := store.byID["b1"]
	if got.Status != booking.StatusConfirmed || got.PaymentStatus != booking.PaymentPaid {
		t.Fatalf("expected confirmed+paid, got %s/%s", got.Status, got.PaymentStatus)
	}
}

func TestNoProcessorConfigured(t *testing.T) {
	store := &fakeBookings{byID: map[types.ID]*booking.Booking{"b1": cardBooking()}}
	svc := NewService(store, nil, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"}); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("create: expected ErrProcessorUnavailable, got %v", err)
	}
	if _, err := svc.RefundBooking(ctx, RefundCommand{Actor: passenger(), BookingID: "b1"}); !errors.Is(err, ErrProcessorUnavailable) {
		t.Fatalf("refund: expected ErrProcessorUnavailable, got %v", err)
	}
}

func TestIntentRequiresPricedBooking(t *testing.T) {
	b := cardBooking()
	b.TotalCost = types.Money{Currency: "usd"}
	svc, _, _ := newFixture(b)

	_, err := svc.CreateOrReuseIntent(context.Background(), IntentCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, booking.ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for an unpriced booking, got %v", err)
	}
}

func TestIntentRefusedWhenPaid(t *testing.T) {
	b := cardBooking()
	b.PaymentStatus = booking.PaymentPaid
	svc, _, _ := newFixture(b)

	_, err := svc.CreateOrReuseIntent(context.Background(), IntentCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrAlreadyPaid) {
		t.Fatalf("expected ErrAlreadyPaid, got %v", err)
	}
}

func TestIntentAuthorization(t *testing.T) {
	svc, _, _ := newFixture(cardBooking())

	_, err := svc.CreateOrReuseIntent(context.Background(), IntentCommand{
		Actor: types.Actor{ID: "p_other", Role: types.RolePassenger}, BookingID: "b1",
	})
	if !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRefundFlow(t *testing.T) {
	b := cardBooking()
	b.Status = booking.StatusDriverAssigned
	b.Driver = &booking.DriverSnapshot{ID: "d1"}
	svc, proc, store := newFixture(b)
	ctx := context.Background()

	intent, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"})
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	proc.intents[intent.ID].Status = IntentSucceeded
	b.PaymentStatus = booking.PaymentPaid

	refund, err := svc.RefundBooking(ctx, RefundCommand{Actor: passenger(), BookingID: "b1", Reason: "trip abandoned"})
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Amount != 1800 {
		t.Fatalf("expected refund of 1800, got %d", refund.Amount)
	}

	got := store.byID["b1"]
	if got.Status != booking.StatusCancelled {
		t.Fatalf("refunded booking must be cancelled, got %s", got.Status)
	}
	if got.PaymentStatus != booking.PaymentRefunded {
		t.Fatalf("expected refunded payment status, got %s", got.PaymentStatus)
	}
	if len(store.released) != 1 || store.released[0] != "d1" {
		t.Fatalf("expected bound driver released, got %v", store.released)
	}

	_, err = svc.RefundBooking(ctx, RefundCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrAlreadyRefunded) {
		t.Fatalf("double refund: expected ErrAlreadyRefunded, got %v", err)
	}
}

func TestRefundRequiresCharge(t *testing.T) {
	svc, _, _ := newFixture(cardBooking())

	_, err := svc.RefundBooking(context.Background(), RefundCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrNoCharge) {
		t.Fatalf("expected ErrNoCharge, got %v", err)
	}
}

func TestRefundRequiresSucceededCharge(t *testing.T) {
	b := cardBooking()
	svc, _, _ := newFixture(b)
	ctx := context.Background()

	if _, err := svc.CreateOrReuseIntent(ctx, IntentCommand{Actor: passenger(), BookingID: "b1"}); err != nil {
		t.Fatalf("create intent: %v", err)
	}

	_, err := svc.RefundBooking(ctx, RefundCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, ErrPaymentNotCompleted) {
		t.Fatalf("expected ErrPaymentNotCompleted, got %v", err)
	}
}

func TestRefundRefusedOnCompletedTrip(t *testing.T) {
	b := cardBooking()
	b.Status = booking.StatusCompleted
	intentID := "pi_done"
	b.PaymentIntentID = &intentID
	b.PaymentStatus = booking.PaymentPaid
	svc, proc, _ := newFixture(b)
	proc.intents[intentID] = &Intent{ID: intentID, Status: IntentSucceeded, Amount: 1800}

	_, err := svc.RefundBooking(context.Background(), RefundCommand{Actor: passenger(), BookingID: "b1"})
	if !errors.Is(err, booking.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}
}
