package trade

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

var (
	// ErrAlreadyClosed is returned when closing a trade that reached its terminal state
	ErrAlreadyClosed = errors.New("trade already closed")
	// ErrInvalidEntry is returned when a trade would be opened without a usable entry price
	ErrInvalidEntry = errors.New("invalid entry price")
	// ErrCorruptRecord is returned when a stored row violates the open/closed invariant
	ErrCorruptRecord = errors.New("corrupt trade record")
)

// Status is the lifecycle state of a trade
type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Kind selects the exit horizon and PnL accounting of a trade
type Kind string

const (
	// KindSimple trades measure PnL on price alone
	KindSimple Kind = "simple"
	// KindSized trades carry a notional order size and a round-trip fee
	KindSized Kind = "sized"
)

// Valid reports whether k is a known kind
func (k Kind) Valid() bool {
	return k == KindSimple || k == KindSized
}

// Result is the realized outcome of a closed trade
type Result int

const (
	Loss    Result = -1
	Neutral Result = 0
	Win     Result = 1
)

func (r Result) String() string {
	switch r {
	case Win:
		return "win"
	case Loss:
		return "loss"
	case Neutral:
		return "neutral"
	default:
		return "unknown"
	}
}

// Closing holds the fields that exist only once a trade is closed
type Closing struct {
	ExitPrice float64
	ClosedAt  time.Time
	Result    Result
	Reason    ExitReason
}

// Trade is a simulated position. The closing part is present iff the trade is closed,
// so exit price, close time and result can never be observed on an open trade.
type Trade struct {
	id         string
	symbol     string
	side       market.Side
	kind       Kind
	entryPrice float64
	openedAt   time.Time
	orderSize  float64
	fee        float64
	closing    *Closing
}

// Sizing carries the notional and fee for KindSized trades
type Sizing struct {
	OrderSize float64 `yaml:"order_size" json:"order_size"`
	Fee       float64 `yaml:"fee" json:"fee"`
}

// Open creates a new open trade. Entry price must be strictly positive.
func Open(id, symbol string, side market.Side, kind Kind, entryPrice float64, openedAt time.Time, sizing Sizing) (Trade, error) {
	if id == "" || symbol == "" {
		return Trade{}, fmt.Errorf("trade id and symbol are required")
	}
	if !side.Valid() {
		return Trade{}, fmt.Errorf("invalid side %q", side)
	}
	if !kind.Valid() {
		return Trade{}, fmt.Errorf("invalid kind %q", kind)
	}
	if !(entryPrice > 0) {
		return Trade{}, fmt.Errorf("%w: %v for %s", ErrInvalidEntry, entryPrice, symbol)
	}
	if kind == KindSized && !(sizing.OrderSize > 0) {
		return Trade{}, fmt.Errorf("sized trade requires a positive order size")
	}
	if kind == KindSimple {
		sizing = Sizing{}
	}

	return Trade{
		id:         id,
		symbol:     symbol,
		side:       side,
		kind:       kind,
		entryPrice: entryPrice,
		openedAt:   openedAt,
		orderSize:  sizing.OrderSize,
		fee:        sizing.Fee,
	}, nil
}

func (t Trade) ID() string          { return t.id }
func (t Trade) Symbol() string      { return t.symbol }
func (t Trade) Side() market.Side   { return t.side }
func (t Trade) Kind() Kind          { return t.kind }
func (t Trade) EntryPrice() float64 { return t.entryPrice }
func (t Trade) OpenedAt() time.Time { return t.openedAt }
func (t Trade) OrderSize() float64  { return t.orderSize }
func (t Trade) Fee() float64        { return t.fee }

// Status reports open or closed
func (t Trade) Status() Status {
	if t.closing != nil {
		return StatusClosed
	}
	return StatusOpen
}

// IsOpen reports whether the trade can still transition
func (t Trade) IsOpen() bool { return t.closing == nil }

// Closing returns the closing details and true for closed trades
func (t Trade) Closing() (Closing, bool) {
	if t.closing == nil {
		return Closing{}, false
	}
	return *t.closing, true
}

// Close transitions an open trade to closed. Exit price, close time and result are set together.
func (t Trade) Close(exitPrice float64, closedAt time.Time, result Result, reason ExitReason) (Trade, error) {
	if t.closing != nil {
		return t, fmt.Errorf("%w: %s", ErrAlreadyClosed, t.id)
	}
	if !(exitPrice > 0) {
		return t, fmt.Errorf("invalid exit price %v for trade %s", exitPrice, t.id)
	}
	if result < Loss || result > Win {
		return t, fmt.Errorf("invalid result %d for trade %s", result, t.id)
	}
	t.closing = &Closing{
		ExitPrice: exitPrice,
		ClosedAt:  closedAt,
		Result:    result,
		Reason:    reason,
	}
	return t, nil
}

// Record is the flat persistence shape of a trade
type Record struct {
	ID         string     `json:"id" db:"id"`
	Symbol     string     `json:"symbol" db:"symbol"`
	Side       string     `json:"side" db:"side"`
	Kind       string     `json:"kind" db:"kind"`
	EntryPrice float64    `json:"entry_price" db:"entry_price"`
	OpenedAt   time.Time  `json:"opened_at" db:"opened_at"`
	OrderSize  float64    `json:"order_size" db:"order_size"`
	Fee        float64    `json:"fee" db:"fee"`
	Status     string     `json:"status" db:"status"`
	ExitPrice  *float64   `json:"exit_price,omitempty" db:"exit_price"`
	ClosedAt   *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	Result     *int       `json:"result,omitempty" db:"result"`
	ExitReason *string    `json:"exit_reason,omitempty" db:"exit_reason"`
}

// Record flattens the trade for storage
func (t Trade) Record() Record {
	rec := Record{
		ID:         t.id,
		Symbol:     t.symbol,
		Side:       string(t.side),
		Kind:       string(t.kind),
		EntryPrice: t.entryPrice,
		OpenedAt:   t.openedAt,
		OrderSize:  t.orderSize,
		Fee:        t.fee,
		Status:     string(t.Status()),
	}
	if c := t.closing; c != nil {
		exit := c.ExitPrice
		closedAt := c.ClosedAt
		result := int(c.Result)
		reason := c.Reason.String()
		rec.ExitPrice = &exit
		rec.ClosedAt = &closedAt
		rec.Result = &result
		rec.ExitReason = &reason
	}
	return rec
}

// Restore rebuilds a trade from a stored record, rejecting rows that break the invariant
func Restore(rec Record) (Trade, error) {
	side, err := market.ParseSide(rec.Side)
	if err != nil {
		return Trade{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, rec.ID, err)
	}
	kind := Kind(rec.Kind)
	if kind == "" {
		kind = KindSimple
	}

	t, err := Open(rec.ID, rec.Symbol, side, kind, rec.EntryPrice, rec.OpenedAt,
		Sizing{OrderSize: rec.OrderSize, Fee: rec.Fee})
	if err != nil {
		return Trade{}, fmt.Errorf("%w: %s: %v", ErrCorruptRecord, rec.ID, err)
	}

	hasClosing := rec.ExitPrice != nil || rec.ClosedAt != nil || rec.Result != nil
	complete := rec.ExitPrice != nil && rec.ClosedAt != nil && rec.Result != nil

	switch Status(rec.Status) {
	case StatusOpen:
		if hasClosing {
			return Trade{}, fmt.Errorf("%w: %s: open trade carries exit fields", ErrCorruptRecord, rec.ID)
		}
		return t, nil
	case StatusClosed:
		if !complete {
			return Trade{}, fmt.Errorf("%w: %s: closed trade missing exit fields", ErrCorruptRecord, rec.ID)
		}
		reason := TimeLimit
		if rec.ExitReason != nil {
			reason = ParseExitReason(*rec.ExitReason)
		}
		closed, err := t.Close(*rec.ExitPrice, *rec.ClosedAt, Result(*rec.Result), reason)
		if err != nil {
			return Trade{}, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
		}
		return closed, nil
	default:
		return Trade{}, fmt.Errorf("%w: %s: unknown status %q", ErrCorruptRecord, rec.ID, rec.Status)
	}
}

// MarshalJSON encodes the trade through its record shape
func (t Trade) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.Record())
}

// UnmarshalJSON decodes and validates a record
func (t *Trade) UnmarshalJSON(data []byte) error {
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	restored, err := Restore(rec)
	if err != nil {
		return err
	}
	*t = restored
	return nil
}
