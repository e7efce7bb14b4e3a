// README: Assignment protocol tests: preconditions, single-winner races,
// and the full trip flow. DB-backed, run with -race.
package assignment

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"hail/internal/modules/booking"
	"hail/internal/modules/driver"
	"hail/internal/types"
)

type fixture struct {
	db       *pgxpool.Pool
	assign   *Store
	bookings *booking.Service
	store    *booking.Store
	drivers  *driver.Store
}

func TestBindHappyPath(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bid := f.confirmedBooking(t, "p1")
	did := f.availableDriver(t, "u_d1", "Alice")

	b, err := f.assign.Bind(ctx, bid, did, types.Actor{Role: types.RoleSystem})
	if err != nil {
		t.Fatalf("bind: %v", err)
	}
	if b.Driver == nil || b.Driver.Name != "Alice" {
		t.Fatalf("expected driver snapshot, got %+v", b.Driver)
	}

	got, err := f.store.Get(ctx, bid)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if got.Status != booking.StatusDriverAssigned {
		t.Fatalf("expected driver_assigned, got %s", got.Status)
	}
	if got.Driver == nil || got.Driver.ID != did {
		t.Fatalf("expected bound driver %s, got %+v", did, got.Driver)
	}

	d, err := f.drivers.Get(ctx, did)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Status != driver.StatusBusy {
		t.Fatalf("expected driver busy, got %s", d.Status)
	}
}

func TestBindFromPending(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	svc := f.bookings
	bid := createBooking(t, svc, "p_pending")
	did := f.availableDriver(t, "u_d_pending", "Bob")

	if _, err := f.assign.Bind(ctx, bid, did, types.Actor{Role: types.RoleAdmin, ID: "a1"}); err != nil {
		t.Fatalf("bind from pending: %v", err)
	}
	got, err := f.store.Get(ctx, bid)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if got.Status != booking.StatusDriverAssigned {
		t.Fatalf("expected driver_assigned, got %s", got.Status)
	}
}

func TestBindPreconditions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sys := types.Actor{Role: types.RoleSystem}

	t.Run("offline driver", func(t *testing.T) {
		bid := f.confirmedBooking(t, "p_off")
		did := f.driverWithStatus(t, "u_off", "Off", driver.StatusOffline)
		if _, err := f.assign.Bind(ctx, bid, did, sys); !errors.Is(err, ErrDriverUnavailable) {
			t.Fatalf("expected ErrDriverUnavailable, got %v", err)
		}
	})

	t.Run("self assignment", func(t *testing.T) {
		bid := f.confirmedBooking(t, "u_self")
		did := f.availableDriver(t, "u_self", "Self")
		if _, err := f.assign.Bind(ctx, bid, did, sys); !errors.Is(err, ErrSelfAssignment) {
			t.Fatalf("expected ErrSelfAssignment, got %v", err)
		}
	})

	t.Run("cancelled booking", func(t *testing.T) {
		bid := createBooking(t, f.bookings, "p_gone")
		if err := f.bookings.Cancel(ctx, booking.CancelCommand{
			Actor: types.Actor{ID: "p_gone", Role: types.RolePassenger}, BookingID: bid,
		}); err != nil {
			t.Fatalf("cancel: %v", err)
		}
		did := f.availableDriver(t, "u_c", "Carl")
		if _, err := f.assign.Bind(ctx, bid, did, sys); !errors.Is(err, ErrBookingNotAssignable) {
			t.Fatalf("expected ErrBookingNotAssignable, got %v", err)
		}
	})

	t.Run("unknown booking", func(t *testing.T) {
		did := f.availableDriver(t, "u_u", "Una")
		if _, err := f.assign.Bind(ctx, "nope", did, sys); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	})

	t.Run("rejected driver", func(t *testing.T) {
		bid := f.confirmedBooking(t, "p_rej")
		did := f.availableDriver(t, "u_rej", "Rita")
		if _, err := f.assign.Bind(ctx, bid, did, sys); err != nil {
			t.Fatalf("bind: %v", err)
		}
		if err := f.bookings.Reject(ctx, booking.RejectCommand{Actor: sys, BookingID: bid}); err != nil {
			t.Fatalf("reject: %v", err)
		}
		if _, err := f.assign.Bind(ctx, bid, did, sys); !errors.Is(err, ErrDriverAlreadyRejected) {
			t.Fatalf("expected ErrDriverAlreadyRejected, got %v", err)
		}
	})
}

func TestConcurrentBindOneDriverManyBookings(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sys := types.Actor{Role: types.RoleSystem}

	did := f.availableDriver(t, "u_hot", "Hot")
	const bookingsN = 8
	ids := make([]types.ID, bookingsN)
	for i := range ids {
		ids[i] = f.confirmedBooking(t, types.ID(fmt.Sprintf("p_many_%d", i)))
	}

	var wg sync.WaitGroup
	errs := make(chan error, bookingsN)
	for _, bid := range ids {
		wg.Add(1)
		go func(bid types.ID) {
			defer wg.Done()
			_, err := f.assign.Bind(ctx, bid, did, sys)
			errs <- err
		}(bid)
	}
	wg.Wait()
	close(errs)

	success := 0
	for err := range errs {
		if err == nil {
			success++
			continue
		}
		if !errors.Is(err, ErrDriverUnavailable) && !errors.Is(err, ErrDriverHasActiveJob) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if success != 1 {
		t.Fatalf("expected exactly 1 successful bind, got %d", success)
	}
}

func TestConcurrentBindManyDriversOneBooking(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sys := types.Actor{Role: types.RoleSystem}

	bid := f.confirmedBooking(t, "p_contested")
	const driversN = 8
	dids := make([]types.ID, driversN)
	for i := range dids {
		dids[i] = f.availableDriver(t, types.ID(fmt.Sprintf("u_race_%d", i)), fmt.Sprintf("D%d", i))
	}

	var wg sync.WaitGroup
	errs := make(chan error, driversN)
	winners := make(chan types.ID, driversN)
	for _, did := range dids {
		wg.Add(1)
		go func(did types.ID) {
			defer wg.Done()
			if _, err := f.assign.Bind(ctx, bid, did, sys); err != nil {
				errs <- err
				return
			}
			winners <- did
		}(did)
	}
	wg.Wait()
	close(errs)
	close(winners)

	for err := range errs {
		if !errors.Is(err, ErrBookingNotAssignable) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	var won []types.ID
	for did := range winners {
		won = append(won, did)
	}
	if len(won) != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", len(won))
	}

	// Losers keep their availability back after the transaction rollback.
	for _, did := range dids {
		d, err := f.drivers.Get(ctx, did)
		if err != nil {
			t.Fatalf("get driver: %v", err)
		}
		if did == won[0] {
			if d.Status != driver.StatusBusy {
				t.Fatalf("winner should be busy, got %s", d.Status)
			}
			continue
		}
		if d.Status != driver.StatusAvailable {
			t.Fatalf("loser %s should be available, got %s", did, d.Status)
		}
	}
}

func TestFullTripFlow(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sys := types.Actor{Role: types.RoleSystem}

	bid := f.confirmedBooking(t, "p_trip")
	did := f.availableDriver(t, "u_trip", "Tina")

	if _, err := f.assign.Bind(ctx, bid, did, sys); err != nil {
		t.Fatalf("bind: %v", err)
	}
	driverActor := types.Actor{ID: did, Role: types.RoleDriver}
	if err := f.bookings.EnRoute(ctx, booking.EnRouteCommand{Actor: driverActor, BookingID: bid}); err != nil {
		t.Fatalf("en-route: %v", err)
	}
	if err := f.bookings.Start(ctx, booking.StartCommand{Actor: driverActor, BookingID: bid}); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := f.bookings.Complete(ctx, booking.CompleteCommand{Actor: driverActor, BookingID: bid}); err != nil {
		t.Fatalf("complete: %v", err)
	}

	b, err := f.store.Get(ctx, bid)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != booking.StatusCompleted {
		t.Fatalf("expected completed, got %s", b.Status)
	}
	if b.PaymentStatus != booking.PaymentPaid {
		t.Fatalf("cash trip should be paid on completion, got %s", b.PaymentStatus)
	}

	d, err := f.drivers.Get(ctx, did)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Status != driver.StatusAvailable {
		t.Fatalf("driver should be released on completion, got %s", d.Status)
	}
	if d.TotalTrips != 1 {
		t.Fatalf("expected 1 completed trip, got %d", d.TotalTrips)
	}
	if d.TotalEarnings != b.TotalCost.Amount {
		t.Fatalf("expected earnings %d, got %d", b.TotalCost.Amount, d.TotalEarnings)
	}
}

func TestRejectReleasesDriverAndRecordsIt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	sys := types.Actor{Role: types.RoleSystem}

	bid := f.confirmedBooking(t, "p_decline")
	did := f.availableDriver(t, "u_decline", "Dina")

	if _, err := f.assign.Bind(ctx, bid, did, sys); err != nil {
		t.Fatalf("bind: %v", err)
	}
	if err := f.bookings.Reject(ctx, booking.RejectCommand{
		Actor: types.Actor{ID: did, Role: types.RoleDriver}, BookingID: bid,
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	b, err := f.store.Get(ctx, bid)
	if err != nil {
		t.Fatalf("get booking: %v", err)
	}
	if b.Status != booking.StatusConfirmed {
		t.Fatalf("expected confirmed after reject, got %s", b.Status)
	}
	if b.Driver != nil {
		t.Fatalf("expected driver snapshot cleared, got %+v", b.Driver)
	}
	if !b.Rejected(did) {
		t.Fatal("expected driver in rejected list")
	}
	if b.MatchAttempts != 1 {
		t.Fatalf("expected 1 match attempt, got %d", b.MatchAttempts)
	}

	d, err := f.drivers.Get(ctx, did)
	if err != nil {
		t.Fatalf("get driver: %v", err)
	}
	if d.Status != driver.StatusAvailable {
		t.Fatalf("driver should be released on reject, got %s", d.Status)
	}

	events, err := f.bookings.History(ctx, bid)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	last := events[len(events)-1]
	if last.Note != booking.NoteDriverRejected {
		t.Fatalf("expected rejection note, got %q", last.Note)
	}
}

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := os.Getenv("HAIL_TEST_DSN")
	if dsn == "" {
		t.Skip("HAIL_TEST_DSN not set; skipping DB-backed tests")
	}

	ctx := context.Background()
	db, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := applyMigration(ctx, db); err != nil {
		t.Fatalf("apply migration: %v", err)
	}
	if _, err := db.Exec(ctx, "TRUNCATE TABLE booking_status_events, bookings, drivers"); err != nil {
		t.Fatalf("truncate tables: %v", err)
	}

	bookingStore := booking.NewStore(db)
	return &fixture{
		db:       db,
		assign:   NewStore(db),
		store:    bookingStore,
		bookings: booking.NewService(bookingStore, nil, nil, nil),
		drivers:  driver.NewStore(db),
	}
}

func (f *fixture) confirmedBooking(t *testing.T, passengerID types.ID) types.ID {
	t.Helper()
	id := createBooking(t, f.bookings, passengerID)
	if err := f.bookings.Confirm(context.Background(), booking.ConfirmCommand{
		Actor: types.Actor{Role: types.RoleSystem}, BookingID: id,
	}); err != nil {
		t.Fatalf("confirm booking: %v", err)
	}
	return id
}

func (f *fixture) availableDriver(t *testing.T, userID types.ID, name string) types.ID {
	return f.driverWithStatus(t, userID, name, driver.StatusAvailable)
}

func (f *fixture) driverWithStatus(t *testing.T, userID types.ID, name string, status driver.Status) types.ID {
	t.Helper()
	ctx := context.Background()
	svc := driver.NewService(f.drivers, f.store, nil)
	id, err := svc.Register(ctx, driver.RegisterCommand{
		UserID: userID, Name: name, Phone: "555", Vehicle: "Toyota", VehicleClass: "standard",
	})
	if err != nil {
		t.Fatalf("register driver: %v", err)
	}
	if status != driver.StatusOffline {
		if err := f.drivers.ForceStatus(ctx, id, status); err != nil {
			t.Fatalf("set driver status: %v", err)
		}
	}
	return id
}

func createBooking(t *testing.T, svc *booking.Service, passengerID types.ID) types.ID {
	t.Helper()
	id, err := svc.Create(context.Background(), booking.CreateCommand{
		Actor:         types.Actor{ID: passengerID, Role: types.RolePassenger},
		PassengerID:   passengerID,
		Pickup:        booking.Stop{Desc: "Main St 1", Point: types.Point{Lat: 25.033, Lng: 121.565}},
		Dropoff:       booking.Stop{Desc: "Airport", Point: types.Point{Lat: 25.0478, Lng: 121.5318}},
		VehicleClass:  "standard",
		PaymentMethod: booking.PayCash,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return id
}

func applyMigration(ctx context.Context, db *pgxpool.Pool) error {
	root, err := repoRoot()
	if err != nil {
		return err
	}
	content, err := os.ReadFile(filepath.Join(root, "migrations", "0001_init.up.sql"))
	if err != nil {
		return err
	}
	cleaned := stripSQLComments(string(content))
	for _, stmt := range splitSQL(cleaned) {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func repoRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for i := 0; i < 6; i++ {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", os.ErrNotExist
}

func stripSQLComments(input string) string {
	var b strings.Builder
	scanner := bufio.NewScanner(strings.NewReader(input))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "--") {
			continue
		}
		b.WriteString(scanner.Text())
		b.WriteString("\n")
	}
	return b.String()
}

func splitSQL(input string) []string {
	parts := strings.Split(input, ";")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		stmt := strings.TrimSpace(p)
		if stmt == "" {
			continue
		}
		out = append(out, stmt)
	}
	return out
}
