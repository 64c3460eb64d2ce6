package store

import (
	"context"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"

	"propguard/internal/errors"
	"propguard/internal/models"
	"propguard/internal/performance"
)

// TradeRow is one line of a deal-history CSV export.
// Empty close_time marks a trade that is still open.
type TradeRow struct {
	Ticket     string `csv:"ticket"`
	Symbol     string `csv:"symbol"`
	Side       string `csv:"type"`
	Volume     string `csv:"volume"`
	OpenTime   string `csv:"open_time"`
	CloseTime  string `csv:"close_time"`
	Profit     string `csv:"profit"`
	Swap       string `csv:"swap"`
	Commission string `csv:"commission"`
}

// PositionRow is one line of an open-positions CSV export.
type PositionRow struct {
	Ticket        string `csv:"ticket"`
	Symbol        string `csv:"symbol"`
	Side          string `csv:"type"`
	Volume        string `csv:"volume"`
	OpenPrice     string `csv:"open_price"`
	CurrentPrice  string `csv:"current_price"`
	Profit        string `csv:"profit"`
	StopLoss      string `csv:"sl"`
	PointValue    string `csv:"point_value"`
	LossIfStopped string `csv:"loss_if_stopped"`
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006.01.02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Importer loads CSV exports into an AccountStore.
type Importer struct {
	store     AccountStore
	batchSize int
	location  *time.Location
}

// NewImporter creates an importer writing trades in batches of batchSize.
// Timestamps without a zone are read in loc (nil means UTC).
func NewImporter(store AccountStore, batchSize int, loc *time.Location) *Importer {
	if loc == nil {
		loc = time.UTC
	}
	return &Importer{store: store, batchSize: batchSize, location: loc}
}

// ImportTrades reads a deal-history CSV and upserts its trades into the
// account. It returns the number of trades written.
func (im *Importer) ImportTrades(ctx context.Context, accountID string, r io.Reader) (int, error) {
	if _, err := im.store.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}

	trades, err := ParseTrades(r, im.location)
	if err != nil {
		return 0, err
	}

	written := 0
	batch := performance.NewBatchProcessor(im.batchSize, func(items []models.Trade) error {
		if err := im.store.SaveTrades(ctx, accountID, items); err != nil {
			return err
		}
		written += len(items)
		return nil
	})

	for _, t := range trades {
		if err := batch.Add(t); err != nil {
			return written, fmt.Errorf("importing trades: %w", err)
		}
	}
	if err := batch.Flush(); err != nil {
		return written, fmt.Errorf("importing trades: %w", err)
	}

	return written, nil
}

// ImportPositions reads an open-positions CSV and replaces the account's
// live positions with it.
func (im *Importer) ImportPositions(ctx context.Context, accountID string, r io.Reader) (int, error) {
	if _, err := im.store.GetAccount(ctx, accountID); err != nil {
		return 0, err
	}

	positions, err := ParsePositions(r)
	if err != nil {
		return 0, err
	}

	if err := im.store.SavePositions(ctx, accountID, positions); err != nil {
		return 0, fmt.Errorf("importing positions: %w", err)
	}
	return len(positions), nil
}

// ParseTrades decodes a deal-history CSV. Timestamps without a zone are read
// in loc (nil means UTC).
func ParseTrades(r io.Reader, loc *time.Location) ([]models.Trade, error) {
	if loc == nil {
		loc = time.UTC
	}
	var rows []*TradeRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(errors.NewDataError("csv", nil, err.Error()), "decoding trades")
	}

	trades := make([]models.Trade, 0, len(rows))
	for i, row := range rows {
		t, err := row.toTrade(loc)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+2)
		}
		trades = append(trades, t)
	}
	return trades, nil
}

// ParsePositions decodes an open-positions CSV.
func ParsePositions(r io.Reader) ([]models.OpenPosition, error) {
	var rows []*PositionRow
	if err := gocsv.Unmarshal(r, &rows); err != nil {
		return nil, errors.Wrap(errors.NewDataError("csv", nil, err.Error()), "decoding positions")
	}

	positions := make([]models.OpenPosition, 0, len(rows))
	for i, row := range rows {
		p, err := row.toPosition()
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i+2)
		}
		positions = append(positions, p)
	}
	return positions, nil
}

func (row *TradeRow) toTrade(loc *time.Location) (models.Trade, error) {
	var t models.Trade
	var err error

	t.ID = strings.TrimSpace(row.Ticket)
	if t.ID == "" {
		return t, errors.NewDataError("ticket", row.Ticket, "is required")
	}
	t.Symbol = strings.TrimSpace(row.Symbol)

	if t.Side, err = models.ParseSide(row.Side); err != nil {
		return t, errors.NewDataError("type", row.Side, err.Error())
	}
	if t.Volume, err = parseFloat("volume", row.Volume); err != nil {
		return t, err
	}
	if t.OpenTime, err = parseTime("open_time", row.OpenTime, loc); err != nil {
		return t, err
	}
	if strings.TrimSpace(row.CloseTime) != "" {
		closed, err := parseTime("close_time", row.CloseTime, loc)
		if err != nil {
			return t, err
		}
		t.CloseTime = &closed
	}
	if t.GrossPnL, err = parseFloat("profit", row.Profit); err != nil {
		return t, err
	}
	if t.Swap, err = parseOptionalFloat("swap", row.Swap); err != nil {
		return t, err
	}
	if t.Commission, err = parseOptionalFloat("commission", row.Commission); err != nil {
		return t, err
	}
	return t, nil
}

func (row *PositionRow) toPosition() (models.OpenPosition, error) {
	var p models.OpenPosition
	var err error

	p.Ticket = strings.TrimSpace(row.Ticket)
	if p.Ticket == "" {
		return p, errors.NewDataError("ticket", row.Ticket, "is required")
	}
	p.Symbol = strings.TrimSpace(row.Symbol)

	if p.Side, err = models.ParseSide(row.Side); err != nil {
		return p, errors.NewDataError("type", row.Side, err.Error())
	}
	if p.Volume, err = parseFloat("volume", row.Volume); err != nil {
		return p, err
	}
	if p.Volume <= 0 {
		return p, errors.NewDataError("volume", row.Volume, "must be positive")
	}
	if p.OpenPrice, err = parseFloat("open_price", row.OpenPrice); err != nil {
		return p, err
	}
	if p.CurrentPrice, err = parseFloat("current_price", row.CurrentPrice); err != nil {
		return p, err
	}
	if p.FloatingPnL, err = parseFloat("profit", row.Profit); err != nil {
		return p, err
	}

	// MetaTrader exports an unset stop as 0.
	if p.StopLoss, err = parseOptionalFloat("sl", row.StopLoss); err != nil {
		return p, err
	}
	if p.StopLoss != nil && *p.StopLoss == 0 {
		p.StopLoss = nil
	}

	pointValue, err := parseOptionalFloat("point_value", row.PointValue)
	if err != nil {
		return p, err
	}
	if pointValue != nil {
		if *pointValue < 0 {
			return p, errors.NewDataError("point_value", row.PointValue, "must not be negative")
		}
		p.PointValue = *pointValue
	}
	if p.StopLossRisk, err = parseOptionalFloat("loss_if_stopped", row.LossIfStopped); err != nil {
		return p, err
	}
	if p.StopLoss != nil && !p.StopPriced() {
		return p, errors.NewDataError("point_value", row.PointValue, "a stop needs point_value or loss_if_stopped to be priced")
	}
	return p, nil
}

func parseFloat(field, raw string) (float64, error) {
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return 0, errors.NewDataError(field, raw, "not a number")
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, errors.NewDataError(field, raw, "must be a finite number")
	}
	return v, nil
}

func parseOptionalFloat(field, raw string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := parseFloat(field, raw)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(field, raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.NewDataError(field, raw, "unrecognised timestamp")
}
