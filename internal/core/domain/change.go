package domain

import (
	"encoding/json"
	"fmt"
)

// Tables published on the change stream. Topics are named after them.
const (
	TableWallets      = "wallets"
	TableTransactions = "transactions"
	TableLeadRequests = "lead_requests"
)

// Operation is the kind of row change.
type Operation string

const (
	OperationInsert Operation = "INSERT"
	OperationUpdate Operation = "UPDATE"
	OperationDelete Operation = "DELETE"
)

// ChangeEvent is one row change delivered to subscribers.
type ChangeEvent struct {
	Table     string         `json:"table"`
	Operation Operation      `json:"operation"`
	Record    map[string]any `json:"record"`
}

// NewChangeEvent snapshots v as the record of a change event.
func NewChangeEvent(table string, op Operation, v any) (ChangeEvent, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return ChangeEvent{}, fmt.Errorf("marshal %s record: %w", table, err)
	}
	var record map[string]any
	if err := json.Unmarshal(raw, &record); err != nil {
		return ChangeEvent{}, fmt.Errorf("unmarshal %s record: %w", table, err)
	}
	return ChangeEvent{Table: table, Operation: op, Record: record}, nil
}

// RecordID returns the record's "id" field, or "" if absent.
func (e ChangeEvent) RecordID() string {
	return e.stringField("id")
}

// RecordField returns a string field of the record, or "" if absent.
func (e ChangeEvent) RecordField(name string) string {
	return e.stringField(name)
}

// RecordVersion returns the record's "version" field. Tables without a version
// column report false.
func (e ChangeEvent) RecordVersion() (int64, bool) {
	return versionOf(e.Record)
}

func versionOf(record map[string]any) (int64, bool) {
	switch v := record["version"].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

func (e ChangeEvent) stringField(name string) string {
	if v, ok := e.Record[name].(string); ok {
		return v
	}
	return ""
}
