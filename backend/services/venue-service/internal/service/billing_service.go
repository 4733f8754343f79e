package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"cuehall/backend/libs/money"
	"cuehall/backend/services/venue-service/internal/event"
	"cuehall/backend/services/venue-service/internal/models"
)

// Bonus earn-back modes.
const (
	EarnOff     = "off"
	EarnPerHour = "per_hour"
	EarnPercent = "percent"
)

const defaultRecordAttempts = 3

var (
	hundred   = decimal.NewFromInt(100)
	msPerHour = decimal.NewFromInt(time.Hour.Milliseconds())
)

// TableStore persists table state. Save must store all given tables or none.
type TableStore interface {
	List(ctx context.Context) ([]models.Table, error)
	Save(ctx context.Context, tables ...*models.Table) error
	Delete(ctx context.Context, id string) error
}

// RecordStore is the append-only log of finalized sessions. Append is idempotent per record id.
type RecordStore interface {
	Append(ctx context.Context, rec *models.SessionRecord) error
	ListByShift(ctx context.Context, shiftID string) ([]models.SessionRecord, error)
	ListBetween(ctx context.Context, from, to time.Time) ([]models.SessionRecord, error)
}

// Relay switches the light of a table.
type Relay interface {
	Switch(ctx context.Context, channel int, on bool) error
}

// ShiftReader exposes the currently open shift, or nil, and whether new
// sessions may start.
type ShiftReader interface {
	CurrentShift() *models.Shift
	AcceptingSessions() bool
}

// Publisher receives engine events.
type Publisher interface {
	Publish(event string, payload any)
}

// BillingConfig tunes finalize behaviour.
type BillingConfig struct {
	EarnMode         string
	BonusPerHour     decimal.Decimal
	BonusEarnPercent decimal.Decimal
	RecordAttempts   int
	RecordRetryDelay time.Duration
}

// BillingDeps collects BillingService collaborators.
type BillingDeps struct {
	Tables  TableStore
	Records RecordStore
	Ledger  *BonusLedger
	Tariffs *TariffService
	Shifts  ShiftReader
	Relay   Relay
	Events  Publisher
	Clock   Clock
	Config  BillingConfig
	Logger  *zap.Logger
}

// Outcome is the result of a table transition. Warning carries hardware and
// bonus bookkeeping problems that did not stop the transition.
type Outcome struct {
	Table   models.TableView
	Warning error
}

// FinalizeResult adds the finalized record, if one was produced.
type FinalizeResult struct {
	Outcome
	Record  *models.SessionRecord
	Receipt *models.Receipt
}

// TransferResult reports both tables after a transfer.
type TransferResult struct {
	From    models.TableView
	To      models.TableView
	Warning error
}

// LightOnOptions modifies LightOn.
type LightOnOptions struct {
	BonusMode bool
}

// BillingService owns every table session of the venue. All table state is
// mutated under one lock; relay I/O happens after the lock is released.
type BillingService struct {
	tables  TableStore
	records RecordStore
	ledger  *BonusLedger
	tariffs *TariffService
	shifts  ShiftReader
	relay   Relay
	events  Publisher
	clock   Clock
	cfg     BillingConfig
	logger  *zap.Logger

	mu    sync.Mutex
	byID  map[string]*models.Table
	order []string
}

// NewBillingService builds the service with an empty table registry.
func NewBillingService(deps BillingDeps) *BillingService {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if deps.Config.RecordAttempts <= 0 {
		deps.Config.RecordAttempts = defaultRecordAttempts
	}
	if deps.Config.EarnMode == "" {
		deps.Config.EarnMode = EarnOff
	}
	return &BillingService{
		tables:  deps.Tables,
		records: deps.Records,
		ledger:  deps.Ledger,
		tariffs: deps.Tariffs,
		shifts:  deps.Shifts,
		relay:   deps.Relay,
		events:  deps.Events,
		clock:   deps.Clock,
		cfg:     deps.Config,
		logger:  deps.Logger,
		byID:    make(map[string]*models.Table),
	}
}

// Restore loads persisted tables, keeping open intervals open.
func (s *BillingService) Restore(ctx context.Context) error {
	tables, err := s.tables.List(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range tables {
		t := tables[i]
		if _, exists := s.byID[t.ID]; !exists {
			s.order = append(s.order, t.ID)
		}
		s.byID[t.ID] = &t
	}
	s.logger.Info("tables restored", zap.Int("count", len(tables)))
	return nil
}

// AddTable registers a new blank table.
func (s *BillingService) AddTable(ctx context.Context, name string, relayChannel int) (models.TableView, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.TableView{}, invalid("name", "required")
	}
	if relayChannel < 0 {
		return models.TableView{}, invalid("relay_channel", "must not be negative")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	t := &models.Table{ID: uuid.NewString(), Name: name, RelayChannel: relayChannel, UpdatedAt: now}
	if err := s.tables.Save(ctx, t); err != nil {
		return models.TableView{}, &PersistenceError{Op: "add table", Err: err}
	}
	s.byID[t.ID] = t
	s.order = append(s.order, t.ID)
	view := s.view(t, now)
	s.publish(event.TableUpdated, view)
	return view, nil
}

// RemoveTable deletes a table that carries no session.
func (s *BillingService) RemoveTable(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, err := s.get(id)
	if err != nil {
		return err
	}
	if !t.Idle() {
		return precondition(ErrTableBusy)
	}
	if err := s.tables.Delete(ctx, id); err != nil {
		return &PersistenceError{Op: "delete table", Err: err}
	}
	delete(s.byID, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.publish(event.TableRemoved, event.TableRemovedPayload{TableID: id})
	return nil
}

// ListTables returns every table as of now.
func (s *BillingService) ListTables() []models.TableView {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock.Now()
	out := make([]models.TableView, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.view(s.byID[id], now))
	}
	return out
}

// GetTable returns one table as of now.
func (s *BillingService) GetTable(id string) (models.TableView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, err := s.get(id)
	if err != nil {
		return models.TableView{}, err
	}
	return s.view(t, s.clock.Now()), nil
}

// CountOn returns the number of lit tables.
func (s *BillingService) CountOn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.byID {
		if t.Timeline.IsOn {
			n++
		}
	}
	return n
}

// AssignPlayers replaces the player set of a table.
func (s *BillingService) AssignPlayers(ctx context.Context, id string, customerIDs []string) (Outcome, error) {
	ids := uniqueIDs(customerIDs)
	if len(ids) > models.MaxPlayers {
		return Outcome{}, invalid("players", "at most %d players per table", models.MaxPlayers)
	}
	if len(ids) > 0 {
		known, err := s.ledger.Customers(ctx, ids)
		if err != nil {
			return Outcome{}, err
		}
		if len(known) != len(ids) {
			return Outcome{}, invalid("players", "unknown customer in %v", ids)
		}
	}

	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	if t.BonusMode && len(ids) == 0 {
		s.mu.Unlock()
		return Outcome{}, precondition(ErrBonusModeNeedsPlayers)
	}
	now := s.clock.Now()
	t.Players = ids
	warn := s.persist(ctx, now, t)
	view := s.view(t, now)
	s.mu.Unlock()

	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// AddRental attaches an extra item to the running session.
func (s *BillingService) AddRental(ctx context.Context, id, name string, price decimal.Decimal) (Outcome, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Outcome{}, invalid("name", "required")
	}
	if price.IsNegative() {
		return Outcome{}, invalid("price", "must not be negative")
	}

	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	now := s.clock.Now()
	t.Rentals = append(t.Rentals, models.Rental{Name: name, Price: money.Round2(price), AddedAt: now})
	warn := s.persist(ctx, now, t)
	view := s.view(t, now)
	s.mu.Unlock()

	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// LightOn starts or resumes billing. It needs an open shift; with BonusMode it
// also activates bonus funding, which needs players.
func (s *BillingService) LightOn(ctx context.Context, id string, opts LightOnOptions) (Outcome, error) {
	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	if !s.shifts.AcceptingSessions() {
		s.mu.Unlock()
		return Outcome{}, precondition(ErrNoOpenShift)
	}
	now := s.clock.Now()
	if opts.BonusMode && !t.BonusMode {
		if err := s.activateBonus(ctx, t, now); err != nil {
			s.mu.Unlock()
			return Outcome{}, err
		}
	}
	wasOn := t.Timeline.IsOn
	t.Timeline.Open(now)
	warn := s.persist(ctx, now, t)
	view := s.view(t, now)
	channel := t.RelayChannel
	s.mu.Unlock()

	if !wasOn {
		s.logger.Info("table lit", zap.String("table_id", id), zap.Bool("bonus_mode", view.BonusMode))
		warn = errors.Join(warn, s.switchRelay(ctx, id, channel, true))
	}
	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// Pause closes the open interval. It is always legal.
func (s *BillingService) Pause(ctx context.Context, id string) (Outcome, error) {
	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	now := s.clock.Now()
	wasOn := t.Timeline.IsOn
	t.Timeline.Close(now)
	var warn error
	if wasOn {
		warn = s.persist(ctx, now, t)
	}
	view := s.view(t, now)
	channel := t.RelayChannel
	s.mu.Unlock()

	warn = errors.Join(warn, s.switchRelay(ctx, id, channel, false))
	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// ToggleBonus switches bonus funding. Turning it off keeps cap and spent figures.
func (s *BillingService) ToggleBonus(ctx context.Context, id string, on bool) (Outcome, error) {
	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	now := s.clock.Now()
	if on && !t.BonusMode {
		if err := s.activateBonus(ctx, t, now); err != nil {
			s.mu.Unlock()
			return Outcome{}, err
		}
	} else if !on {
		t.BonusMode = false
	}
	warn := s.persist(ctx, now, t)
	view := s.view(t, now)
	s.mu.Unlock()

	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// activateBonus snapshots the cap from the players' balances and the cost accrued so far.
func (s *BillingService) activateBonus(ctx context.Context, t *models.Table, now time.Time) error {
	if len(t.Players) == 0 {
		return precondition(ErrBonusModeNeedsPlayers)
	}
	balance, err := s.ledger.Balance(ctx, t.Players)
	if err != nil {
		return err
	}
	if !balance.IsPositive() {
		return precondition(ErrNoBonusBalance)
	}
	t.BonusCap = t.BonusSpent.Add(balance)
	t.BonusBaseAmount = t.Timeline.Cost(now, s.tariffs.Schedule())
	t.BonusExhausted = false
	t.BonusMode = true
	return nil
}

// Tick is the bonus exhaustion watchdog. Every lit bonus-mode table whose
// remaining credit reached zero is paused and charged once; pausing it removes
// it from the next tick's candidates. It returns the number of tables paused.
func (s *BillingService) Tick(ctx context.Context) int {
	type fired struct {
		id      string
		channel int
		spent   decimal.Decimal
		view    models.TableView
	}

	s.mu.Lock()
	now := s.clock.Now()
	schedule := s.tariffs.Schedule()
	var hits []fired
	for _, id := range s.order {
		t := s.byID[id]
		if !t.Timeline.IsOn || !t.BonusMode {
			continue
		}
		consumed := t.Timeline.Cost(now, schedule).Sub(t.BonusBaseAmount)
		remaining := t.BonusCap.Sub(t.BonusSpent).Sub(consumed)
		if remaining.IsPositive() {
			continue
		}

		t.Timeline.Close(now)
		due := money.NonNegative(t.BonusCap.Sub(t.BonusSpent))
		spent, err := s.ledger.Spend(ctx, t.Players, due)
		if err != nil {
			s.logger.Error("bonus spend on exhaustion failed",
				zap.String("table_id", id),
				zap.String("due", due.String()),
				zap.Error(err),
			)
		}
		t.BonusSpent = t.BonusSpent.Add(spent)
		t.BonusExhausted = true
		t.BonusMode = false
		_ = s.persist(ctx, now, t)
		hits = append(hits, fired{id: id, channel: t.RelayChannel, spent: spent, view: s.view(t, now)})
	}
	s.mu.Unlock()

	for _, hit := range hits {
		s.logger.Info("bonus exhausted, table paused", zap.String("table_id", hit.id), zap.String("spent", hit.spent.String()))
		_ = s.switchRelay(ctx, hit.id, hit.channel, false)
		s.publish(event.BonusExhausted, event.BonusExhaustedPayload{TableID: hit.id, Spent: hit.spent.String()})
		s.publish(event.TableUpdated, hit.view)
	}
	return len(hits)
}

// Finalize closes the session with a receipt. A table that was never lit
// produces no record. The table is cleared even when bonus bookkeeping or
// the record write fails; a failed record write is returned as an error.
func (s *BillingService) Finalize(ctx context.Context, id, paymentMethod, operator string) (FinalizeResult, error) {
	method := strings.ToLower(strings.TrimSpace(paymentMethod))
	if method != models.PaymentCash && method != models.PaymentCard {
		return FinalizeResult{}, invalid("payment_method", "must be %q or %q", models.PaymentCash, models.PaymentCard)
	}

	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return FinalizeResult{}, err
	}
	now := s.clock.Now()
	wasOn := t.Timeline.IsOn
	channel := t.RelayChannel
	schedule := s.tariffs.Schedule()

	var (
		warnings  []error
		record    *models.SessionRecord
		recordErr error
	)
	if !t.Timeline.Empty() {
		rec, warns := s.settle(ctx, t, method, operator, now)
		warnings = append(warnings, warns...)
		recordErr = s.appendRecord(ctx, &rec)
		record = &rec
	}
	t.ClearSession()
	if err := s.persist(ctx, now, t); err != nil {
		warnings = append(warnings, err)
	}
	view := s.view(t, now)
	s.mu.Unlock()

	if wasOn {
		warnings = append(warnings, s.switchRelay(ctx, id, channel, false))
	}

	result := FinalizeResult{Outcome: Outcome{Table: view, Warning: errors.Join(warnings...)}, Record: record}
	if record != nil {
		receipt := models.NewReceipt(*record, schedule.BaseRate())
		result.Receipt = &receipt
		if recordErr == nil {
			s.publish(event.SessionFinalized, *record)
		}
	}
	s.publish(event.TableUpdated, view)
	return result, recordErr
}

// settle prices the session and runs bonus bookkeeping. Ledger failures become warnings.
func (s *BillingService) settle(ctx context.Context, t *models.Table, method, operator string, now time.Time) (models.SessionRecord, []error) {
	var warnings []error
	schedule := s.tariffs.Schedule()

	elapsed := t.Timeline.ElapsedMs(now)
	gross := t.Timeline.Cost(now, schedule)
	bonusUsed := money.Round2(t.BonusSpent)
	net := money.NonNegative(gross.Sub(bonusUsed))

	var players []models.PlayerSnapshot
	balances := decimal.Zero
	if len(t.Players) > 0 {
		customers, err := s.ledger.Customers(ctx, t.Players)
		if err != nil {
			warnings = append(warnings, &BookkeepingError{Op: "load players", Err: err})
			for _, pid := range t.Players {
				players = append(players, models.PlayerSnapshot{ID: pid})
			}
		}
		for _, c := range customers {
			players = append(players, models.PlayerSnapshot{ID: c.ID, Name: c.Name, Balance: c.BonusBalance})
			balances = balances.Add(money.NonNegative(c.BonusBalance))
		}
	}

	if t.BonusMode && net.IsPositive() && balances.IsPositive() {
		spent, err := s.ledger.Spend(ctx, t.Players, money.Min(net, balances))
		if err != nil {
			warnings = append(warnings, &BookkeepingError{Op: "spend", Err: err})
		}
		net = net.Sub(spent)
		bonusUsed = bonusUsed.Add(spent)
	}

	earned := decimal.Zero
	if earnTotal := s.earnTotal(elapsed, net); earnTotal.IsPositive() && len(players) > 0 {
		per, err := s.ledger.Earn(ctx, t.Players, earnTotal)
		if err != nil {
			warnings = append(warnings, &BookkeepingError{Op: "earn", Err: err})
		}
		earned = per.Mul(decimal.NewFromInt(int64(len(players))))
	}
	if len(players) > 0 {
		if err := s.ledger.RecordVisits(ctx, t.Players, net); err != nil {
			warnings = append(warnings, &BookkeepingError{Op: "visits", Err: err})
		}
	}

	rentals := append([]models.Rental(nil), t.Rentals...)
	rentalsAmount := sumRentals(rentals)
	game := money.Round2(net)

	var shiftID *string
	if shift := s.shifts.CurrentShift(); shift != nil {
		id := shift.ID
		shiftID = &id
	}
	startedAt, _ := t.Timeline.FirstStart()

	for _, w := range warnings {
		s.logger.Warn("bonus bookkeeping failed during finalize", zap.String("table_id", t.ID), zap.Error(w))
	}

	return models.SessionRecord{
		ID:            uuid.NewString(),
		TableID:       t.ID,
		TableName:     t.Name,
		Intervals:     t.Timeline.Spans(now),
		Rentals:       rentals,
		GrossAmount:   gross,
		BonusUsed:     money.Round2(bonusUsed),
		BonusEarned:   earned,
		GameAmount:    game,
		RentalsAmount: rentalsAmount,
		Amount:        game.Add(rentalsAmount),
		StartedAt:     startedAt,
		FinishedAt:    now,
		DurationMs:    elapsed,
		ShiftID:       shiftID,
		Players:       players,
		PaymentMethod: method,
		Operator:      operator,
	}, warnings
}

func (s *BillingService) earnTotal(elapsedMs int64, net decimal.Decimal) decimal.Decimal {
	switch s.cfg.EarnMode {
	case EarnPerHour:
		hours := decimal.NewFromInt(elapsedMs).Div(msPerHour)
		return money.Round2(hours.Mul(s.cfg.BonusPerHour))
	case EarnPercent:
		return money.Round2(net.Mul(s.cfg.BonusEarnPercent).Div(hundred))
	default:
		return decimal.Zero
	}
}

// appendRecord retries the source-of-truth write before giving up.
func (s *BillingService) appendRecord(ctx context.Context, rec *models.SessionRecord) error {
	var err error
	for attempt := 1; attempt <= s.cfg.RecordAttempts; attempt++ {
		if err = s.records.Append(ctx, rec); err == nil {
			s.logger.Info("session finalized",
				zap.String("record_id", rec.ID),
				zap.String("table_id", rec.TableID),
				zap.String("amount", rec.Amount.String()),
				zap.String("payment_method", rec.PaymentMethod),
			)
			return nil
		}
		s.logger.Warn("record append failed", zap.String("record_id", rec.ID), zap.Int("attempt", attempt), zap.Error(err))
		if attempt < s.cfg.RecordAttempts && s.cfg.RecordRetryDelay > 0 {
			time.Sleep(time.Duration(attempt) * s.cfg.RecordRetryDelay)
		}
	}
	s.logger.Error("record lost after retries",
		zap.String("record_id", rec.ID),
		zap.String("table_id", rec.TableID),
		zap.String("amount", rec.Amount.String()),
		zap.String("payment_method", rec.PaymentMethod),
		zap.Error(err),
	)
	return &PersistenceError{Op: "append record", Err: err}
}

// Transfer moves the whole session of from onto the idle table to.
func (s *BillingService) Transfer(ctx context.Context, fromID, toID string) (TransferResult, error) {
	if fromID == toID {
		return TransferResult{}, invalid("to", "must differ from the source table")
	}

	s.mu.Lock()
	src, err := s.get(fromID)
	if err != nil {
		s.mu.Unlock()
		return TransferResult{}, err
	}
	dst, err := s.get(toID)
	if err != nil {
		s.mu.Unlock()
		return TransferResult{}, err
	}
	if src.Idle() {
		s.mu.Unlock()
		return TransferResult{}, precondition(ErrTableIdle)
	}
	if !dst.Idle() {
		s.mu.Unlock()
		return TransferResult{}, precondition(ErrTableBusy)
	}

	now := s.clock.Now()
	wasOn := src.Timeline.IsOn
	moved := src.Clone()
	dst.Timeline = moved.Timeline
	dst.BonusMode = moved.BonusMode
	dst.BonusCap = moved.BonusCap
	dst.BonusBaseAmount = moved.BonusBaseAmount
	dst.BonusSpent = moved.BonusSpent
	dst.BonusExhausted = moved.BonusExhausted
	dst.Players = moved.Players
	dst.Rentals = moved.Rentals
	src.ClearSession()

	warn := s.persist(ctx, now, src, dst)
	fromView := s.view(src, now)
	toView := s.view(dst, now)
	srcChannel, dstChannel := src.RelayChannel, dst.RelayChannel
	s.mu.Unlock()

	if wasOn {
		warn = errors.Join(warn,
			s.switchRelay(ctx, fromID, srcChannel, false),
			s.switchRelay(ctx, toID, dstChannel, true),
		)
	}
	s.logger.Info("session transferred", zap.String("from", fromID), zap.String("to", toID))
	s.publish(event.TableUpdated, fromView)
	s.publish(event.TableUpdated, toView)
	return TransferResult{From: fromView, To: toView, Warning: warn}, nil
}

// Reset clears a table without producing a record.
func (s *BillingService) Reset(ctx context.Context, id string) (Outcome, error) {
	s.mu.Lock()
	t, err := s.get(id)
	if err != nil {
		s.mu.Unlock()
		return Outcome{}, err
	}
	now := s.clock.Now()
	wasOn := t.Timeline.IsOn
	t.ClearSession()
	warn := s.persist(ctx, now, t)
	view := s.view(t, now)
	channel := t.RelayChannel
	s.mu.Unlock()

	if wasOn {
		warn = errors.Join(warn, s.switchRelay(ctx, id, channel, false))
	}
	s.logger.Info("table reset without receipt", zap.String("table_id", id))
	s.publish(event.TableUpdated, view)
	return Outcome{Table: view, Warning: warn}, nil
}

// Hold runs fn while no table can change state.
func (s *BillingService) Hold(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn()
}

// UpdateTariff activates tariff and rebases every bonus-mode table so the
// credit already consumed keeps its old price; only time after the change is
// charged at the new rates.
func (s *BillingService) UpdateTariff(ctx context.Context, tariff models.Tariff) (*RateSchedule, error) {
	s.mu.Lock()
	now := s.clock.Now()
	previous := s.tariffs.Schedule()
	schedule, err := s.tariffs.Update(ctx, tariff)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	var rebased []*models.Table
	views := make([]models.TableView, 0, len(s.order))
	for _, id := range s.order {
		t := s.byID[id]
		if t.BonusMode {
			consumed := t.Timeline.Cost(now, previous).Sub(t.BonusBaseAmount)
			t.BonusBaseAmount = t.Timeline.Cost(now, schedule).Sub(consumed)
			rebased = append(rebased, t)
		}
	}
	warn := s.persist(ctx, now, rebased...)
	for _, id := range s.order {
		views = append(views, s.view(s.byID[id], now))
	}
	s.mu.Unlock()

	if warn != nil {
		s.logger.Warn("bonus rebase not persisted", zap.Int("tables", len(rebased)), zap.Error(warn))
	}
	for _, view := range views {
		s.publish(event.TableUpdated, view)
	}
	return schedule, nil
}

// PauseAll closes every open interval. Relay failures are returned joined.
func (s *BillingService) PauseAll(ctx context.Context) (int, error) {
	type paused struct {
		id      string
		channel int
		view    models.TableView
	}

	s.mu.Lock()
	now := s.clock.Now()
	var hits []paused
	var lit []*models.Table
	for _, id := range s.order {
		t := s.byID[id]
		if !t.Timeline.IsOn {
			continue
		}
		t.Timeline.Close(now)
		lit = append(lit, t)
	}
	warn := s.persist(ctx, now, lit...)
	for _, t := range lit {
		hits = append(hits, paused{id: t.ID, channel: t.RelayChannel, view: s.view(t, now)})
	}
	s.mu.Unlock()

	var errs []error
	if warn != nil {
		errs = append(errs, warn)
	}
	for _, hit := range hits {
		if err := s.switchRelay(ctx, hit.id, hit.channel, false); err != nil {
			errs = append(errs, err)
		}
		s.publish(event.TableUpdated, hit.view)
	}
	return len(hits), errors.Join(errs...)
}

func (s *BillingService) get(id string) (*models.Table, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, ErrTableNotFound
	}
	return t, nil
}

// persist saves tables. Failures are logged and returned as a warning since the
// in-memory state stays authoritative for the running process.
func (s *BillingService) persist(ctx context.Context, now time.Time, tables ...*models.Table) error {
	if len(tables) == 0 {
		return nil
	}
	for _, t := range tables {
		t.UpdatedAt = now
	}
	if err := s.tables.Save(ctx, tables...); err != nil {
		s.logger.Error("failed to persist table state", zap.Int("tables", len(tables)), zap.Error(err))
		return &PersistenceError{Op: "save table", Err: err}
	}
	return nil
}

func (s *BillingService) view(t *models.Table, now time.Time) models.TableView {
	schedule := s.tariffs.Schedule()
	cost := t.Timeline.Cost(now, schedule)
	v := models.TableView{
		Table:          t.Clone(),
		State:          t.State(),
		ElapsedMs:      t.Timeline.ElapsedMs(now),
		Cost:           cost,
		CurrentRate:    schedule.RateAt(now),
		BonusRemaining: decimal.Zero,
		RentalsAmount:  sumRentals(t.Rentals),
		AsOf:           now,
	}
	if t.BonusMode {
		remaining := t.BonusCap.Sub(t.BonusSpent).Sub(cost.Sub(t.BonusBaseAmount))
		v.BonusRemaining = money.Round2(money.NonNegative(remaining))
	}
	return v
}

func (s *BillingService) switchRelay(ctx context.Context, tableID string, channel int, on bool) error {
	if s.relay == nil || channel <= 0 {
		return nil
	}
	op := "relay_off"
	if on {
		op = "relay_on"
	}
	if err := s.relay.Switch(ctx, channel, on); err != nil {
		s.logger.Warn("relay call failed",
			zap.String("table_id", tableID),
			zap.Int("channel", channel),
			zap.String("op", op),
			zap.Error(err),
		)
		return &HardwareError{Op: op, Channel: channel, Err: err}
	}
	return nil
}

func (s *BillingService) publish(name string, payload any) {
	if s.events != nil {
		s.events.Publish(name, payload)
	}
}

func sumRentals(rentals []models.Rental) decimal.Decimal {
	total := decimal.Zero
	for _, r := range rentals {
		total = total.Add(r.Price)
	}
	return money.Round2(total)
}
