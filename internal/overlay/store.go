package overlay

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/MarcoPoloResearchLab/overlay/internal/ddl"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrNoKey indicates a table without a stable row identity.
	ErrNoKey = errors.New("overlay: table has no primary key")
	// ErrUnknownColumn indicates a row referencing a column the table does not declare.
	ErrUnknownColumn = errors.New("overlay: unknown column")
	// ErrMissingKey indicates a row whose key columns are not all set.
	ErrMissingKey = errors.New("overlay: key column is null")
	// ErrKeyChange indicates an update that assigns a new key value.
	ErrKeyChange = errors.New("overlay: key columns cannot be changed")
	// ErrNotFound indicates a key that is not visible through the view.
	ErrNotFound = errors.New("overlay: row not found")

	errMissingIDProvider = errors.New("overlay: write id provider is required")
)

// Operations recorded in the outbox.
const (
	OperationInsert = "insert"
	OperationUpdate = "update"
	OperationDelete = "delete"
)

// Row maps column names to values; nil is SQL NULL.
type Row map[string]any

// Clone returns a shallow copy.
func (r Row) Clone() Row {
	clone := make(Row, len(r))
	for column, value := range r {
		clone[column] = value
	}
	return clone
}

// Change is one outbox record.
type Change struct {
	ID            int64
	TableName     string
	Operation     string
	Value         Row
	WriteID       uuid.UUID
	TransactionID int64
}

// LocalState exposes the overlay row of one key.
type LocalState struct {
	Values         Row
	ChangedColumns ColumnSet
	IsDeleted      bool
	WriteID        uuid.UUID
}

type syncedRow struct {
	values  Row
	writeID uuid.UUID
}

// StoreConfig describes the table a Store models.
type StoreConfig struct {
	Table      ddl.TableSchema
	Key        ddl.PrimaryKey
	IDProvider WriteIDProvider
	Logger     *zap.Logger
}

// Store is an in-memory model of one table's synced replica, local overlay,
// merge view, and outbox, following the same rules as the generated triggers.
type Store struct {
	table         string
	columns       []string
	key           []string
	nonKey        []string
	synced        map[string]syncedRow
	local         map[string]*LocalState
	changes       []Change
	transactionID int64
	ids           WriteIDProvider
	logger        *zap.Logger
}

// NewStore validates the configuration and returns an empty Store.
func NewStore(config StoreConfig) (*Store, error) {
	if !config.Key.Keyed() {
		return nil, fmt.Errorf("%w: %s", ErrNoKey, config.Table.Name)
	}
	if config.IDProvider == nil {
		return nil, errMissingIDProvider
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	store := &Store{
		table:   config.Table.Name,
		columns: config.Table.ColumnNames(),
		key:     config.Key.Columns(),
		synced:  make(map[string]syncedRow),
		local:   make(map[string]*LocalState),
		ids:     config.IDProvider,
		logger:  logger,
	}
	for _, column := range store.columns {
		if !config.Key.Contains(column) {
			store.nonKey = append(store.nonKey, column)
		}
	}
	for _, column := range store.key {
		if _, exists := config.Table.Column(column); !exists {
			return nil, fmt.Errorf("%w: key column %s", ErrUnknownColumn, column)
		}
	}
	return store, nil
}

// Insert writes a new row through the view. Every non-key column is marked
// changed; inserting over a tombstone revives it.
func (s *Store) Insert(row Row) (uuid.UUID, error) {
	if err := s.checkColumns(row); err != nil {
		return uuid.Nil, err
	}
	identity, err := s.identity(row)
	if err != nil {
		return uuid.Nil, err
	}
	writeID, err := s.ids.NewWriteID()
	if err != nil {
		return uuid.Nil, err
	}

	values := s.fullRow(row)
	s.local[identity] = &LocalState{
		Values:         values,
		ChangedColumns: NewColumnSet(s.nonKey...),
		WriteID:        writeID,
	}
	s.appendChange(OperationInsert, values.Clone(), writeID)
	s.logger.Debug("overlay insert", zap.String("table", s.table), zap.String("key", identity))
	return writeID, nil
}

// Update assigns values to the visible row identified by key. The changed
// set is diffed against the synced baseline, unioned with the previous set,
// and loses only the columns this update wrote back to the baseline.
func (s *Store) Update(key Row, assignments Row) (uuid.UUID, error) {
	if err := s.checkColumns(assignments); err != nil {
		return uuid.Nil, err
	}
	identity, err := s.identity(key)
	if err != nil {
		return uuid.Nil, err
	}
	previous, visible := s.Get(key)
	if !visible {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	next := previous.Clone()
	for column, value := range assignments {
		next[column] = value
	}
	for _, column := range s.key {
		if !equalValues(next[column], previous[column]) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrKeyChange, column)
		}
	}
	writeID, err := s.ids.NewWriteID()
	if err != nil {
		return uuid.Nil, err
	}

	baseline := s.synced[identity].values
	local, hasLocal := s.local[identity]
	changed := ColumnSet{}
	for _, column := range s.nonKey {
		switch {
		case !equalValues(next[column], baseline[column]):
			changed = changed.With(column)
		case hasLocal && local.ChangedColumns.Contains(column) && equalValues(next[column], previous[column]):
			changed = changed.With(column)
		}
	}

	if hasLocal {
		for _, column := range s.nonKey {
			if !equalValues(next[column], baseline[column]) {
				local.Values[column] = next[column]
			}
		}
		local.ChangedColumns = changed
		local.WriteID = writeID
	} else {
		s.local[identity] = &LocalState{Values: next.Clone(), ChangedColumns: changed, WriteID: writeID}
	}

	payload := Row{}
	for column, value := range next {
		if value == nil {
			continue
		}
		if s.isKey(column) || changed.Contains(column) {
			payload[column] = value
		}
	}
	s.appendChange(OperationUpdate, payload, writeID)
	s.logger.Debug("overlay update", zap.String("table", s.table), zap.String("key", identity), zap.Strings("changed_columns", changed.Names()))
	return writeID, nil
}

// Delete tombstones the visible row identified by key.
func (s *Store) Delete(key Row) (uuid.UUID, error) {
	identity, err := s.identity(key)
	if err != nil {
		return uuid.Nil, err
	}
	if _, visible := s.Get(key); !visible {
		return uuid.Nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
	}
	writeID, err := s.ids.NewWriteID()
	if err != nil {
		return uuid.Nil, err
	}

	if local, exists := s.local[identity]; exists {
		local.IsDeleted = true
		local.WriteID = writeID
	} else {
		s.local[identity] = &LocalState{Values: s.keyRow(key), IsDeleted: true, WriteID: writeID}
	}
	s.appendChange(OperationDelete, s.keyRow(key), writeID)
	s.logger.Debug("overlay delete", zap.String("table", s.table), zap.String("key", identity))
	return writeID, nil
}

// ApplySynced upserts an authoritative row. The overlay for the key is
// retired only when it carries the same write id; uuid.Nil never matches.
func (s *Store) ApplySynced(row Row, writeID uuid.UUID) error {
	if err := s.checkColumns(row); err != nil {
		return err
	}
	identity, err := s.identity(row)
	if err != nil {
		return err
	}
	s.synced[identity] = syncedRow{values: s.fullRow(row), writeID: writeID}
	if local, exists := s.local[identity]; exists && writeID != uuid.Nil && local.WriteID == writeID {
		delete(s.local, identity)
		s.logger.Debug("overlay reconciled", zap.String("table", s.table), zap.String("key", identity))
	}
	return nil
}

// DeleteSynced removes an authoritative row; any overlay for the key is discarded.
func (s *Store) DeleteSynced(key Row) error {
	identity, err := s.identity(key)
	if err != nil {
		return err
	}
	delete(s.synced, identity)
	delete(s.local, identity)
	return nil
}

// Get returns the merged row for key as the view exposes it.
func (s *Store) Get(key Row) (Row, bool) {
	identity, err := s.identity(key)
	if err != nil {
		return nil, false
	}
	return s.merged(identity)
}

// View returns every visible merged row ordered by key.
func (s *Store) View() []Row {
	identities := make(map[string]struct{}, len(s.synced)+len(s.local))
	for identity := range s.synced {
		identities[identity] = struct{}{}
	}
	for identity := range s.local {
		identities[identity] = struct{}{}
	}
	ordered := make([]string, 0, len(identities))
	for identity := range identities {
		ordered = append(ordered, identity)
	}
	sort.Strings(ordered)

	rows := make([]Row, 0, len(ordered))
	for _, identity := range ordered {
		if row, visible := s.merged(identity); visible {
			rows = append(rows, row)
		}
	}
	return rows
}

// Local returns the overlay row for key, if any.
func (s *Store) Local(key Row) (LocalState, bool) {
	identity, err := s.identity(key)
	if err != nil {
		return LocalState{}, false
	}
	local, exists := s.local[identity]
	if !exists {
		return LocalState{}, false
	}
	return LocalState{
		Values:         local.Values.Clone(),
		ChangedColumns: local.ChangedColumns,
		IsDeleted:      local.IsDeleted,
		WriteID:        local.WriteID,
	}, true
}

// Changes returns the outbox in id order.
func (s *Store) Changes() []Change {
	return append([]Change(nil), s.changes...)
}

func (s *Store) merged(identity string) (Row, bool) {
	synced, hasSynced := s.synced[identity]
	local, hasLocal := s.local[identity]
	switch {
	case hasLocal && local.IsDeleted:
		return nil, false
	case !hasLocal && !hasSynced:
		return nil, false
	}

	row := make(Row, len(s.columns))
	for _, column := range s.columns {
		switch {
		case s.isKey(column) && hasLocal:
			row[column] = local.Values[column]
		case s.isKey(column):
			row[column] = synced.values[column]
		case hasLocal && local.ChangedColumns.Contains(column):
			row[column] = local.Values[column]
		default:
			row[column] = synced.values[column]
		}
	}
	return row, true
}

func (s *Store) appendChange(operation string, value Row, writeID uuid.UUID) {
	s.transactionID++
	s.changes = append(s.changes, Change{
		ID:            int64(len(s.changes) + 1),
		TableName:     s.table,
		Operation:     operation,
		Value:         value,
		WriteID:       writeID,
		TransactionID: s.transactionID,
	})
}

func (s *Store) checkColumns(row Row) error {
	for column := range row {
		if !s.hasColumn(column) {
			return fmt.Errorf("%w: %s", ErrUnknownColumn, column)
		}
	}
	return nil
}

// identity encodes the key values of row as a stable map key.
func (s *Store) identity(row Row) (string, error) {
	parts := make([]string, 0, len(s.key))
	for _, column := range s.key {
		value, exists := row[column]
		if !exists || value == nil {
			return "", fmt.Errorf("%w: %s", ErrMissingKey, column)
		}
		parts = append(parts, fmt.Sprintf("%T:%v", value, value))
	}
	return strings.Join(parts, "\x00"), nil
}

func (s *Store) fullRow(row Row) Row {
	values := make(Row, len(s.columns))
	for _, column := range s.columns {
		values[column] = row[column]
	}
	return values
}

func (s *Store) keyRow(row Row) Row {
	values := make(Row, len(s.key))
	for _, column := range s.key {
		values[column] = row[column]
	}
	return values
}

func (s *Store) isKey(column string) bool {
	for _, name := range s.key {
		if name == column {
			return true
		}
	}
	return false
}

func (s *Store) hasColumn(column string) bool {
	for _, name := range s.columns {
		if name == column {
			return true
		}
	}
	return false
}

func equalValues(left, right any) bool {
	return reflect.DeepEqual(left, right)
}
