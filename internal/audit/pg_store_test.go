package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"

	"github.com/phaselock/escrowd/internal/signer"
)

func TestPGStoreAppend(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pstore := NewPGStore(db)
	s := signer.NewLocal("test-signer")

	// Empty trail: the first event chains from nothing.
	mock.ExpectQuery("SELECT hash FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	ev := &Event{EventType: "allocation.created", Payload: map[string]interface{}{"allocationId": 1}}
	if err := pstore.Append(context.Background(), ev, s); err != nil {
		t.Fatalf("Append: %v", err)
	}
	assert.NotEmpty(t, ev.ID)
	assert.Empty(t, ev.PrevHash)

	// Non-empty trail: the new event chains from the stored head.
	mock.ExpectQuery("SELECT hash FROM audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"hash"}).AddRow(ev.Hash))
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(1, 1))

	next := &Event{EventType: "phase.released", Payload: map[string]interface{}{"allocationId": 1}}
	if err := pstore.Append(context.Background(), next, s); err != nil {
		t.Fatalf("Append: %v", err)
	}
	assert.Equal(t, ev.Hash, next.PrevHash)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGStoreFetchPendingEvents(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pstore := NewPGStore(db)
	now := time.Now().UTC()

	rows := sqlmock.NewRows([]string{
		"id", "event_type", "payload", "prev_hash", "hash", "signature", "signer_id", "ts", "metadata",
	}).AddRow("ev-1", "allocation.created", []byte(`{"allocationId":1}`), "", "abc", "sig", "test-signer", now, []byte("null")).
		AddRow("ev-2", "phase.released", []byte(`{"allocationId":1}`), "abc", "def", "sig", "test-signer", now, []byte("null"))

	mock.ExpectQuery("UPDATE audit_events").
		WithArgs(10).
		WillReturnRows(rows)

	events, err := pstore.FetchPendingEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("FetchPendingEvents: %v", err)
	}
	assert.Len(t, events, 2)
	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, "abc", events[1].PrevHash)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}

func TestPGStoreMarkStreamResult(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	pstore := NewPGStore(db)

	mock.ExpectExec("UPDATE audit_events").
		WithArgs("streamed", sql.NullString{String: "key", Valid: true}, sql.NullString{}, "ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = pstore.MarkStreamResult(context.Background(), "ev-1", sql.NullString{String: "key", Valid: true}, true, sql.NullString{})
	assert.NoError(t, err)

	mock.ExpectExec("UPDATE audit_events").
		WithArgs("pending", sql.NullString{}, sql.NullString{String: "kafka produce: boom", Valid: true}, "ev-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = pstore.MarkStreamResult(context.Background(), "ev-2", sql.NullString{}, false, sql.NullString{String: "kafka produce: boom", Valid: true})
	assert.NoError(t, err)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("there were unfulfilled expectations: %s", err)
	}
}
