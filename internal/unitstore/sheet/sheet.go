// Package sheet implements unitstore.Store on a Google Sheets spreadsheet,
// the externally owned tabular store units live in. The store has no
// transactions and is rate limited, so every write batches all cells of one
// transition into a single values.batchUpdate call and a local limiter keeps
// the adapter under the API quota. Field-name to column mapping happens here
// and nowhere else.
package sheet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"pkt.systems/occupd/internal/machine"
	"pkt.systems/occupd/internal/unitstore"
)

// Unit sheet column layout. One row per unit, header on row 1.
const (
	colID = iota
	colKey
	colAssemblyState
	colAssemblyWorker
	colAssemblyAt
	colWeldState
	colWeldWorker
	colWeldAt
	colInspectionState
	colInspectionWorker
	colInspectionAt
	colRepairState
	colRepairWorker
	colRepairAt
	colHolder
	colHolderOperation
	colHolderSince
	colRepairCycles
	colBlocked
	colVersion
	unitColumns
)

// Sub-unit sheet column layout. One row per sub-unit.
const (
	subColUnitID = iota
	subColID
	subColKind
	subColAssemblyWorker
	subColAssemblyAt
	subColWeldWorker
	subColWeldAt
	subUnitColumns
)

// Config configures the sheet-backed store.
type Config struct {
	SpreadsheetID string
	// CredentialsFile points at a service-account JSON key. Empty uses
	// application default credentials.
	CredentialsFile string
	UnitsSheet      string
	SubUnitsSheet   string
	AuditSheet      string
	// RatePerSecond bounds API calls; the Sheets API default quota is 60
	// reads and 60 writes per minute per user.
	RatePerSecond float64
	Burst         int
}

// Store implements unitstore.Store over the Sheets API.
type Store struct {
	svc     *sheets.Service
	cfg     Config
	limiter *rate.Limiter

	mu   sync.Mutex
	rows map[string]int // unit id -> sheet row (1-based), learned on read
	subs map[string][]int
}

// New builds the sheet store and verifies the spreadsheet is reachable.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.SpreadsheetID == "" {
		return nil, fmt.Errorf("sheet: spreadsheet id required")
	}
	if cfg.UnitsSheet == "" {
		cfg.UnitsSheet = "Units"
	}
	if cfg.SubUnitsSheet == "" {
		cfg.SubUnitsSheet = "SubUnits"
	}
	if cfg.AuditSheet == "" {
		cfg.AuditSheet = "Audit"
	}
	if cfg.RatePerSecond <= 0 {
		cfg.RatePerSecond = 0.8
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	opts := []option.ClientOption{option.WithScopes(sheets.SpreadsheetsScope)}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheet: build service: %w", err)
	}
	s := &Store{
		svc:     svc,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSecond), cfg.Burst),
		rows:    make(map[string]int),
		subs:    make(map[string][]int),
	}
	if _, err := s.svc.Spreadsheets.Get(cfg.SpreadsheetID).Fields("spreadsheetId").Context(ctx).Do(); err != nil {
		return nil, fmt.Errorf("sheet: open spreadsheet: %w", classify(err))
	}
	return s, nil
}

// ReadUnit loads one unit plus its sub-unit rows.
func (s *Store) ReadUnit(ctx context.Context, id string) (*unitstore.Unit, error) {
	row, values, err := s.findUnitRow(ctx, id)
	if err != nil {
		return nil, err
	}
	unit, err := parseUnitRow(values)
	if err != nil {
		return nil, err
	}
	subRows, subValues, err := s.findSubUnitRows(ctx, id)
	if err != nil {
		return nil, err
	}
	for _, sv := range subValues {
		sub, err := parseSubUnitRow(sv)
		if err != nil {
			return nil, err
		}
		unit.SubUnits = append(unit.SubUnits, sub)
	}
	s.mu.Lock()
	s.rows[id] = row
	s.subs[id] = subRows
	s.mu.Unlock()
	return unit, nil
}

// WriteUnit persists every field of the unit in one batchUpdate. The version
// cell is re-read immediately before writing; a concurrent bump surfaces as
// ErrVersionMismatch. The sheet offers no true compare-and-set, so this is
// an optimistic guard layered under the exclusive per-unit lock held by the
// coordinator.
func (s *Store) WriteUnit(ctx context.Context, unit *unitstore.Unit, expectedVersion int64) error {
	s.mu.Lock()
	row, ok := s.rows[unit.ID]
	subRows := append([]int(nil), s.subs[unit.ID]...)
	s.mu.Unlock()
	if !ok {
		var err error
		row, _, err = s.findUnitRow(ctx, unit.ID)
		if err != nil {
			return err
		}
	}

	versionRange := fmt.Sprintf("%s!%s%d", s.cfg.UnitsSheet, columnLetter(colVersion), row)
	if err := s.wait(ctx); err != nil {
		return err
	}
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, versionRange).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	stored := int64(0)
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		stored, _ = strconv.ParseInt(fmt.Sprint(resp.Values[0][0]), 10, 64)
	}
	if stored != expectedVersion {
		return unitstore.ErrVersionMismatch
	}

	data := []*sheets.ValueRange{{
		Range:  fmt.Sprintf("%s!A%d:%s%d", s.cfg.UnitsSheet, row, columnLetter(unitColumns-1), row),
		Values: [][]interface{}{unitRow(unit)},
	}}
	if len(subRows) != len(unit.SubUnits) {
		return fmt.Errorf("sheet: sub-unit row count changed for %s (have %d rows, unit has %d)", unit.ID, len(subRows), len(unit.SubUnits))
	}
	for i, sub := range unit.SubUnits {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!A%d:%s%d", s.cfg.SubUnitsSheet, subRows[i], columnLetter(subUnitColumns-1), subRows[i]),
			Values: [][]interface{}{subUnitRow(unit.ID, sub)},
		})
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err = s.svc.Spreadsheets.Values.BatchUpdate(s.cfg.SpreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

// FindUnitByKey scans the key column for an external lookup key.
func (s *Store) FindUnitByKey(ctx context.Context, key string) (string, error) {
	rows, err := s.unitRows(ctx)
	if err != nil {
		return "", err
	}
	for _, values := range rows {
		if cell(values, colKey) == key {
			return cell(values, colID), nil
		}
	}
	return "", unitstore.ErrNotFound
}

// ListUnits enumerates all unit ids.
func (s *Store) ListUnits(ctx context.Context) ([]string, error) {
	rows, err := s.unitRows(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, values := range rows {
		if id := cell(values, colID); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// AppendAudit appends one audit row; rows are never rewritten.
func (s *Store) AppendAudit(ctx context.Context, rec unitstore.AuditRecord) error {
	payload := ""
	if len(rec.Payload) > 0 {
		raw, err := json.Marshal(rec.Payload)
		if err != nil {
			return fmt.Errorf("sheet: encode audit payload: %w", err)
		}
		payload = string(raw)
	}
	if err := s.wait(ctx); err != nil {
		return err
	}
	_, err := s.svc.Spreadsheets.Values.Append(s.cfg.SpreadsheetID, s.cfg.AuditSheet+"!A:F", &sheets.ValueRange{
		Values: [][]interface{}{{rec.ID, rec.UnitID, rec.Kind, rec.Worker, formatTime(rec.At), payload}},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return classify(err)
	}
	return nil
}

// Close satisfies unitstore.Store; the Sheets client holds no resources
// worth tearing down.
func (s *Store) Close() error { return nil }

func (s *Store) wait(ctx context.Context) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return err
	}
	return nil
}

func (s *Store) unitRows(ctx context.Context) ([][]interface{}, error) {
	if err := s.wait(ctx); err != nil {
		return nil, err
	}
	readRange := fmt.Sprintf("%s!A2:%s", s.cfg.UnitsSheet, columnLetter(unitColumns-1))
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	return resp.Values, nil
}

func (s *Store) findUnitRow(ctx context.Context, id string) (int, []interface{}, error) {
	rows, err := s.unitRows(ctx)
	if err != nil {
		return 0, nil, err
	}
	for i, values := range rows {
		if cell(values, colID) == id {
			return i + 2, values, nil // +2: header row plus 1-based indexing
		}
	}
	return 0, nil, unitstore.ErrNotFound
}

func (s *Store) findSubUnitRows(ctx context.Context, unitID string) ([]int, [][]interface{}, error) {
	if err := s.wait(ctx); err != nil {
		return nil, nil, err
	}
	readRange := fmt.Sprintf("%s!A2:%s", s.cfg.SubUnitsSheet, columnLetter(subUnitColumns-1))
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, nil, classify(err)
	}
	var rows []int
	var values [][]interface{}
	for i, v := range resp.Values {
		if cell(v, subColUnitID) == unitID {
			rows = append(rows, i+2)
			values = append(values, v)
		}
	}
	return rows, values, nil
}

func unitRow(u *unitstore.Unit) []interface{} {
	row := make([]interface{}, unitColumns)
	row[colID] = u.ID
	row[colKey] = u.Key
	row[colAssemblyState] = string(u.Assembly.State)
	row[colAssemblyWorker] = u.Assembly.Worker
	row[colAssemblyAt] = formatTime(u.Assembly.CompletedAt)
	row[colWeldState] = string(u.Weld.State)
	row[colWeldWorker] = u.Weld.Worker
	row[colWeldAt] = formatTime(u.Weld.CompletedAt)
	row[colInspectionState] = string(u.Inspection.State)
	row[colInspectionWorker] = u.Inspection.Worker
	row[colInspectionAt] = formatTime(u.Inspection.DecidedAt)
	row[colRepairState] = string(u.Repair.State)
	row[colRepairWorker] = u.Repair.Worker
	row[colRepairAt] = formatTime(u.Repair.StartedAt)
	if u.Occupied != nil {
		row[colHolder] = u.Occupied.Holder
		row[colHolderOperation] = string(u.Occupied.Operation)
		row[colHolderSince] = formatTime(u.Occupied.Since)
	} else {
		row[colHolder] = ""
		row[colHolderOperation] = ""
		row[colHolderSince] = ""
	}
	row[colRepairCycles] = strconv.Itoa(u.RepairCycles)
	row[colBlocked] = strconv.FormatBool(u.Blocked)
	row[colVersion] = strconv.FormatInt(u.Version, 10)
	return row
}

func subUnitRow(unitID string, s unitstore.SubUnit) []interface{} {
	row := make([]interface{}, subUnitColumns)
	row[subColUnitID] = unitID
	row[subColID] = s.ID
	row[subColKind] = string(s.Kind)
	row[subColAssemblyWorker] = s.Assembly.Worker
	row[subColAssemblyAt] = formatTime(s.Assembly.At)
	row[subColWeldWorker] = s.Weld.Worker
	row[subColWeldAt] = formatTime(s.Weld.At)
	return row
}

func parseUnitRow(values []interface{}) (*unitstore.Unit, error) {
	id := cell(values, colID)
	if id == "" {
		return nil, fmt.Errorf("sheet: unit row missing id")
	}
	version, err := parseInt(cell(values, colVersion))
	if err != nil {
		return nil, fmt.Errorf("sheet: unit %s: bad version: %w", id, err)
	}
	cycles, err := parseInt(cell(values, colRepairCycles))
	if err != nil {
		return nil, fmt.Errorf("sheet: unit %s: bad repair cycle count: %w", id, err)
	}
	unit := &unitstore.Unit{
		ID:  id,
		Key: cell(values, colKey),
		Assembly: unitstore.Progress{
			State:       machine.OpState(cell(values, colAssemblyState)),
			Worker:      cell(values, colAssemblyWorker),
			CompletedAt: parseTime(cell(values, colAssemblyAt)),
		},
		Weld: unitstore.Progress{
			State:       machine.OpState(cell(values, colWeldState)),
			Worker:      cell(values, colWeldWorker),
			CompletedAt: parseTime(cell(values, colWeldAt)),
		},
		Inspection: unitstore.Inspection{
			State:     machine.InspectionState(cell(values, colInspectionState)),
			Worker:    cell(values, colInspectionWorker),
			DecidedAt: parseTime(cell(values, colInspectionAt)),
		},
		Repair: unitstore.Repair{
			State:     machine.RepairState(cell(values, colRepairState)),
			Worker:    cell(values, colRepairWorker),
			StartedAt: parseTime(cell(values, colRepairAt)),
		},
		RepairCycles: int(cycles),
		Blocked:      cell(values, colBlocked) == "true",
		Version:      version,
	}
	if holder := cell(values, colHolder); holder != "" {
		unit.Occupied = &unitstore.Occupation{
			Holder:    holder,
			Operation: machine.Operation(cell(values, colHolderOperation)),
			Since:     parseTime(cell(values, colHolderSince)),
		}
	}
	return unit, nil
}

func parseSubUnitRow(values []interface{}) (unitstore.SubUnit, error) {
	id := cell(values, subColID)
	if id == "" {
		return unitstore.SubUnit{}, fmt.Errorf("sheet: sub-unit row missing id")
	}
	return unitstore.SubUnit{
		ID:   id,
		Kind: unitstore.SubUnitKind(cell(values, subColKind)),
		Assembly: unitstore.Completion{
			Worker: cell(values, subColAssemblyWorker),
			At:     parseTime(cell(values, subColAssemblyAt)),
		},
		Weld: unitstore.Completion{
			Worker: cell(values, subColWeldWorker),
			At:     parseTime(cell(values, subColWeldAt)),
		},
	}, nil
}

func cell(values []interface{}, idx int) string {
	if idx >= len(values) {
		return ""
	}
	return strings.TrimSpace(fmt.Sprint(values[idx]))
}

func parseInt(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.ParseInt(s, 10, 64)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// columnLetter converts a zero-based column index to its A1 letter.
func columnLetter(idx int) string {
	letters := ""
	idx++
	for idx > 0 {
		idx--
		letters = string(rune('A'+idx%26)) + letters
		idx /= 26
	}
	return letters
}

// classify marks quota and server-side Sheets failures as transient so the
// retry wrapper can take another pass; everything else surfaces as-is.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		if apiErr.Code == 429 || apiErr.Code >= 500 {
			return unitstore.NewTransientError(err)
		}
		return err
	}
	// Plain transport errors (reset connections, timeouts) are retryable.
	return unitstore.NewTransientError(err)
}

var _ unitstore.Store = (*Store)(nil)
