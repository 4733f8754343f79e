package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cuehall/backend/services/venue-service/internal/event"
	"cuehall/backend/services/venue-service/internal/models"
	"cuehall/backend/services/venue-service/internal/repository/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type relayCall struct {
	channel int
	on      bool
}

type fakeRelay struct {
	mu    sync.Mutex
	calls []relayCall
	err   error
}

func (r *fakeRelay) Switch(_ context.Context, channel int, on bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, relayCall{channel: channel, on: on})
	return r.err
}

func (r *fakeRelay) Calls() []relayCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]relayCall(nil), r.calls...)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []string
}

func (p *recordingPublisher) Publish(name string, _ any) {
	p.mu.Lock()
	p.events = append(p.events, name)
	p.mu.Unlock()
}

func (p *recordingPublisher) Count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e == name {
			n++
		}
	}
	return n
}

type failingRecords struct {
	*memory.RecordRepository
	err error
}

func (f failingRecords) Append(context.Context, *models.SessionRecord) error { return f.err }

type harness struct {
	billing   *BillingService
	shifts    *ShiftService
	customers *memory.CustomerRepository
	records   *memory.RecordRepository
	clock     *fakeClock
	relay     *fakeRelay
	events    *recordingPublisher
}

type harnessOpts struct {
	tariff    models.Tariff
	balances  map[string]string
	config    BillingConfig
	customers CustomerStore
	records   RecordStore
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()
	if opts.tariff.BaseRate.IsZero() {
		opts.tariff = models.Tariff{BaseRate: dec("300")}
	}
	customers := seedCustomers(t, opts.balances)
	records := memory.NewRecordRepository()
	clock := &fakeClock{now: wed(12, 0)}
	relay := &fakeRelay{}
	events := &recordingPublisher{}

	tariffs, err := NewTariffService(nil, opts.tariff, time.UTC, nil)
	if err != nil {
		t.Fatalf("tariffs: %v", err)
	}
	var store CustomerStore = customers
	if opts.customers != nil {
		store = opts.customers
	}
	var recordStore RecordStore = records
	if opts.records != nil {
		recordStore = opts.records
	}

	shifts := NewShiftService(memory.NewShiftRepository(), records, events, clock, nil)
	billing := NewBillingService(BillingDeps{
		Tables:  memory.NewTableRepository(),
		Records: recordStore,
		Ledger:  NewBonusLedger(store, nil),
		Tariffs: tariffs,
		Shifts:  shifts,
		Relay:   relay,
		Events:  events,
		Clock:   clock,
		Config:  opts.config,
	})
	shifts.UseSweeper(billing)

	return &harness{
		billing:   billing,
		shifts:    shifts,
		customers: customers,
		records:   records,
		clock:     clock,
		relay:     relay,
		events:    events,
	}
}

func (h *harness) openShift(t *testing.T) *models.Shift {
	t.Helper()
	shift, err := h.shifts.Open(context.Background(), "anna")
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return shift
}

func (h *harness) addTable(t *testing.T, name string, channel int) string {
	t.Helper()
	view, err := h.billing.AddTable(context.Background(), name, channel)
	if err != nil {
		t.Fatalf("add table: %v", err)
	}
	return view.ID
}

func TestLightOnRequiresOpenShift(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	id := h.addTable(t, "T1", 1)

	_, err := h.billing.LightOn(context.Background(), id, LightOnOptions{})
	if !errors.Is(err, ErrNoOpenShift) || !IsPrecondition(err) {
		t.Fatalf("expected no open shift precondition, got %v", err)
	}
	if len(h.relay.Calls()) != 0 {
		t.Fatalf("relay must not be touched")
	}
}

func TestLightOnAndPauseDriveRelay(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.openShift(t)
	id := h.addTable(t, "T1", 3)
	ctx := context.Background()

	out, err := h.billing.LightOn(ctx, id, LightOnOptions{})
	if err != nil || out.Warning != nil {
		t.Fatalf("light on: %v / %v", err, out.Warning)
	}
	if out.Table.State != models.TableOn {
		t.Fatalf("expected on, got %s", out.Table.State)
	}
	// second light on is idempotent and leaves the relay alone
	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("repeat light on: %v", err)
	}

	h.clock.Advance(30 * time.Minute)
	out, err = h.billing.Pause(ctx, id)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if out.Table.State != models.TablePaused || !out.Table.Cost.Equal(dec("150")) {
		t.Fatalf("unexpected view after pause: %s %s", out.Table.State, out.Table.Cost)
	}

	calls := h.relay.Calls()
	if len(calls) != 2 || calls[0] != (relayCall{3, true}) || calls[1] != (relayCall{3, false}) {
		t.Fatalf("unexpected relay calls %+v", calls)
	}
}

func TestRelayFailureIsWarning(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.relay.err = errors.New("connection refused")
	h.openShift(t)
	id := h.addTable(t, "T1", 1)

	out, err := h.billing.LightOn(context.Background(), id, LightOnOptions{})
	if err != nil {
		t.Fatalf("light on must commit despite relay failure: %v", err)
	}
	var hw *HardwareError
	if !errors.As(out.Warning, &hw) || hw.Channel != 1 {
		t.Fatalf("expected hardware warning, got %v", out.Warning)
	}
	if out.Table.State != models.TableOn {
		t.Fatalf("timeline must be open, got %s", out.Table.State)
	}
}

func TestBonusModeNeedsPlayersAndBalance(t *testing.T) {
	h := newHarness(t, harnessOpts{balances: map[string]string{"broke": "0"}})
	h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	_, err := h.billing.LightOn(ctx, id, LightOnOptions{BonusMode: true})
	if !errors.Is(err, ErrBonusModeNeedsPlayers) {
		t.Fatalf("expected needs players, got %v", err)
	}

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"broke"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	_, err = h.billing.LightOn(ctx, id, LightOnOptions{BonusMode: true})
	if !errors.Is(err, ErrNoBonusBalance) {
		t.Fatalf("expected no balance, got %v", err)
	}
	view, _ := h.billing.GetTable(id)
	if view.State != models.TableOff {
		t.Fatalf("rejected light on must not start billing")
	}
}

func TestAssignPlayersValidation(t *testing.T) {
	h := newHarness(t, harnessOpts{balances: map[string]string{"a": "0", "b": "0", "c": "0", "d": "0", "e": "0"}})
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a", "b", "c", "d", "e"}); !IsValidation(err) {
		t.Fatalf("expected validation error for five players, got %v", err)
	}
	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a", "ghost"}); !IsValidation(err) {
		t.Fatalf("expected validation error for unknown player, got %v", err)
	}
	out, err := h.billing.AssignPlayers(ctx, id, []string{"a", "a", "b"})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if len(out.Table.Players) != 2 {
		t.Fatalf("duplicates must collapse, got %v", out.Table.Players)
	}
}

func TestWatchdogExhaustsBonusOnce(t *testing.T) {
	h := newHarness(t, harnessOpts{balances: map[string]string{"a": "100"}})
	h.openShift(t)
	id := h.addTable(t, "T1", 2)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	out, err := h.billing.LightOn(ctx, id, LightOnOptions{BonusMode: true})
	if err != nil {
		t.Fatalf("light on: %v", err)
	}
	if !out.Table.BonusCap.Equal(dec("100")) || !out.Table.BonusRemaining.Equal(dec("100")) {
		t.Fatalf("unexpected cap %s remaining %s", out.Table.BonusCap, out.Table.BonusRemaining)
	}

	h.clock.Advance(19 * time.Minute)
	if n := h.billing.Tick(ctx); n != 0 {
		t.Fatalf("fired early")
	}

	h.clock.Advance(time.Minute)
	if n := h.billing.Tick(ctx); n != 1 {
		t.Fatalf("expected one table paused, got %d", n)
	}
	if n := h.billing.Tick(ctx); n != 0 {
		t.Fatalf("watchdog fired twice")
	}

	view, _ := h.billing.GetTable(id)
	if view.State != models.TablePaused || view.BonusMode || !view.BonusExhausted {
		t.Fatalf("unexpected table after exhaustion: %+v", view)
	}
	if !view.BonusSpent.Equal(dec("100")) {
		t.Fatalf("expected 100 spent, got %s", view.BonusSpent)
	}
	if !balanceOf(t, h.customers, "a").IsZero() {
		t.Fatalf("balance must be drained")
	}
	calls := h.relay.Calls()
	if last := calls[len(calls)-1]; last != (relayCall{2, false}) {
		t.Fatalf("expected relay off, got %+v", calls)
	}
	if h.events.Count(event.BonusExhausted) != 1 {
		t.Fatalf("expected one exhaustion event")
	}

	res, err := h.billing.Finalize(ctx, id, "cash", "anna")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !res.Record.GrossAmount.Equal(dec("100")) || !res.Record.BonusUsed.Equal(dec("100")) || !res.Record.Amount.IsZero() {
		t.Fatalf("unexpected record %+v", res.Record)
	}
}

func TestTariffChangeKeepsConsumedBonus(t *testing.T) {
	h := newHarness(t, harnessOpts{balances: map[string]string{"a": "100"}})
	h.openShift(t)
	id := h.addTable(t, "T1", 2)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{BonusMode: true}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	updates := h.events.Count(event.TableUpdated)
	if _, err := h.billing.UpdateTariff(ctx, models.Tariff{BaseRate: dec("600")}); err != nil {
		t.Fatalf("update tariff: %v", err)
	}
	if h.events.Count(event.TableUpdated) != updates+1 {
		t.Fatalf("expected the table view to be republished")
	}
	view, _ := h.billing.GetTable(id)
	if !view.BonusRemaining.Equal(dec("50")) {
		t.Fatalf("expected 50 left after the change, got %s", view.BonusRemaining)
	}
	if n := h.billing.Tick(ctx); n != 0 {
		t.Fatalf("repricing past play must not exhaust the bonus")
	}

	h.clock.Advance(4 * time.Minute)
	if n := h.billing.Tick(ctx); n != 0 {
		t.Fatalf("fired early at the new rate")
	}
	view, _ = h.billing.GetTable(id)
	if !view.BonusRemaining.Equal(dec("10")) {
		t.Fatalf("expected 10 left, got %s", view.BonusRemaining)
	}
	h.clock.Advance(time.Minute)
	if n := h.billing.Tick(ctx); n != 1 {
		t.Fatalf("expected exhaustion at the new rate, got %d", n)
	}
}

func TestFinalizeProducesRecordAndEarnsBonus(t *testing.T) {
	h := newHarness(t, harnessOpts{
		tariff:   models.Tariff{BaseRate: dec("150")},
		balances: map[string]string{"a": "0", "b": "0"},
		config:   BillingConfig{EarnMode: EarnPercent, BonusEarnPercent: dec("10")},
	})
	shift := h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a", "b"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	if _, err := h.billing.AddRental(ctx, id, "cue", dec("20")); err != nil {
		t.Fatalf("rental: %v", err)
	}
	h.clock.Advance(time.Hour)

	res, err := h.billing.Finalize(ctx, id, "CARD", "anna")
	if err != nil || res.Warning != nil {
		t.Fatalf("finalize: %v / %v", err, res.Warning)
	}
	rec := res.Record
	if rec == nil {
		t.Fatalf("expected a record")
	}
	if !rec.GameAmount.Equal(dec("150")) || !rec.RentalsAmount.Equal(dec("20")) || !rec.Amount.Equal(dec("170")) {
		t.Fatalf("unexpected amounts %s %s %s", rec.GameAmount, rec.RentalsAmount, rec.Amount)
	}
	if !rec.BonusEarned.Equal(dec("15")) || rec.PaymentMethod != models.PaymentCard {
		t.Fatalf("unexpected earn %s / method %s", rec.BonusEarned, rec.PaymentMethod)
	}
	if rec.ShiftID == nil || *rec.ShiftID != shift.ID || rec.DurationMs != time.Hour.Milliseconds() {
		t.Fatalf("unexpected shift or duration on record")
	}
	if res.Receipt == nil || !res.Receipt.TotalAmount.Equal(rec.Amount) {
		t.Fatalf("receipt must mirror the record")
	}

	a, _ := h.customers.Get(ctx, "a")
	if !a.BonusBalance.Equal(dec("7.5")) || a.Visits != 1 || !a.TotalSpent.Equal(dec("75")) {
		t.Fatalf("unexpected customer after finalize %+v", a)
	}
	if !res.Table.Idle() || res.Table.State != models.TableOff {
		t.Fatalf("table must be cleared")
	}
	if h.events.Count(event.SessionFinalized) != 1 {
		t.Fatalf("expected one finalize event")
	}
}

func TestFinalizeRejectsUnknownPaymentMethod(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	id := h.addTable(t, "T1", 1)
	if _, err := h.billing.Finalize(context.Background(), id, "crypto", "anna"); !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFinalizeClearsTableWhenLedgerFails(t *testing.T) {
	repo := seedCustomers(t, map[string]string{"a": "50"})
	h := newHarness(t, harnessOpts{
		customers: failingCustomerStore{repo, errors.New("db down")},
		config:    BillingConfig{EarnMode: EarnPerHour, BonusPerHour: dec("10")},
	})
	h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, id, []string{"a"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	res, err := h.billing.Finalize(ctx, id, "cash", "anna")
	if err != nil {
		t.Fatalf("finalize must succeed: %v", err)
	}
	var bk *BookkeepingError
	if !errors.As(res.Warning, &bk) {
		t.Fatalf("expected bookkeeping warning, got %v", res.Warning)
	}
	if res.Record == nil || !res.Record.Amount.Equal(dec("50")) {
		t.Fatalf("record must still be written, got %+v", res.Record)
	}
	view, _ := h.billing.GetTable(id)
	if !view.Idle() {
		t.Fatalf("table must be cleared")
	}
}

func TestFinalizeSurfacesRecordWriteFailure(t *testing.T) {
	boom := errors.New("disk full")
	h := newHarness(t, harnessOpts{records: failingRecords{memory.NewRecordRepository(), boom}})
	h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	h.clock.Advance(time.Minute)

	res, err := h.billing.Finalize(ctx, id, "cash", "anna")
	var pe *PersistenceError
	if !errors.As(err, &pe) || !errors.Is(err, boom) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if res.Record == nil {
		t.Fatalf("failed record must be returned for manual recovery")
	}
	view, _ := h.billing.GetTable(id)
	if !view.Idle() {
		t.Fatalf("table must be cleared even when the record is lost")
	}
	if h.events.Count(event.SessionFinalized) != 0 {
		t.Fatalf("lost record must not be announced")
	}
}

func TestFinalizeWithoutPlayProducesNoRecord(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.AddRental(ctx, id, "cue", dec("20")); err != nil {
		t.Fatalf("rental: %v", err)
	}
	res, err := h.billing.Finalize(ctx, id, "cash", "anna")
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if res.Record != nil || res.Receipt != nil {
		t.Fatalf("never lit table must not produce a record")
	}
	if !res.Table.Idle() {
		t.Fatalf("table must be cleared")
	}
	if len(h.relay.Calls()) != 0 {
		t.Fatalf("relay must not be touched for an unlit table")
	}
}

func TestTransferMovesSession(t *testing.T) {
	h := newHarness(t, harnessOpts{balances: map[string]string{"a": "0"}})
	h.openShift(t)
	from := h.addTable(t, "T1", 1)
	to := h.addTable(t, "T2", 2)
	busy := h.addTable(t, "T3", 3)
	ctx := context.Background()

	if _, err := h.billing.AssignPlayers(ctx, from, []string{"a"}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := h.billing.LightOn(ctx, from, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	if _, err := h.billing.LightOn(ctx, busy, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	h.clock.Advance(10 * time.Minute)

	if _, err := h.billing.Transfer(ctx, from, busy); !errors.Is(err, ErrTableBusy) {
		t.Fatalf("expected busy target, got %v", err)
	}

	res, err := h.billing.Transfer(ctx, from, to)
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if !res.From.Idle() || res.To.State != models.TableOn || len(res.To.Players) != 1 {
		t.Fatalf("unexpected transfer result %+v", res)
	}
	if !res.To.Cost.Equal(dec("50")) {
		t.Fatalf("cost must travel with the session, got %s", res.To.Cost)
	}
	calls := h.relay.Calls()
	tail := calls[len(calls)-2:]
	if tail[0] != (relayCall{1, false}) || tail[1] != (relayCall{2, true}) {
		t.Fatalf("unexpected relay calls %+v", calls)
	}

	if _, err := h.billing.Transfer(ctx, from, to); !errors.Is(err, ErrTableIdle) {
		t.Fatalf("expected idle source, got %v", err)
	}
}

func TestResetDropsSessionWithoutRecord(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	h.clock.Advance(time.Minute)
	out, err := h.billing.Reset(ctx, id)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if !out.Table.Idle() {
		t.Fatalf("table must be blank")
	}
	recs, _ := h.records.ListBetween(ctx, wed(0, 0), wed(23, 0))
	if len(recs) != 0 {
		t.Fatalf("reset must not write a record")
	}
}

func TestRemoveTableRequiresIdle(t *testing.T) {
	h := newHarness(t, harnessOpts{})
	h.openShift(t)
	id := h.addTable(t, "T1", 1)
	ctx := context.Background()

	if _, err := h.billing.LightOn(ctx, id, LightOnOptions{}); err != nil {
		t.Fatalf("light on: %v", err)
	}
	if err := h.billing.RemoveTable(ctx, id); !errors.Is(err, ErrTableBusy) {
		t.Fatalf("expected busy, got %v", err)
	}
	if _, err := h.billing.Reset(ctx, id); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if err := h.billing.RemoveTable(ctx, id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := h.billing.GetTable(id); !errors.Is(err, ErrTableNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRestoreKeepsOpenIntervals(t *testing.T) {
	tables := memory.NewTableRepository()
	started := wed(11, 0)
	seeded := &models.Table{ID: "t1", Name: "T1", RelayChannel: 1}
	seeded.Timeline.Open(started)
	if err := tables.Save(context.Background(), seeded); err != nil {
		t.Fatalf("seed: %v", err)
	}

	tariffs, err := NewTariffService(nil, models.Tariff{BaseRate: dec("300")}, time.UTC, nil)
	if err != nil {
		t.Fatalf("tariffs: %v", err)
	}
	clock := &fakeClock{now: wed(12, 0)}
	billing := NewBillingService(BillingDeps{
		Tables:  tables,
		Records: memory.NewRecordRepository(),
		Ledger:  NewBonusLedger(memory.NewCustomerRepository(), nil),
		Tariffs: tariffs,
		Shifts:  NewShiftService(memory.NewShiftRepository(), memory.NewRecordRepository(), nil, clock, nil),
		Clock:   clock,
	})
	if err := billing.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}

	view, err := billing.GetTable("t1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if view.State != models.TableOn || !view.Cost.Equal(dec("300")) {
		t.Fatalf("restored table should keep billing: %s %s", view.State, view.Cost)
	}
	if billing.CountOn() != 1 {
		t.Fatalf("expected one lit table")
	}
}
