// Neuropipe - Sensor Recording Ingestion and Linking Pipeline
// Copyright 2026 K. Zhang (kzhang87)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/kzhang87/neuropipe

package database

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/kzhang87/neuropipe/internal/jobs"
	"github.com/kzhang87/neuropipe/internal/models"
)

type fakeTx struct {
	statements []string
	args       [][]any
	failOn     string
	committed  bool
	rolledBack bool
}

func (f *fakeTx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if f.failOn != "" && strings.Contains(sql, f.failOn) {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	f.statements = append(f.statements, sql)
	f.args = append(f.args, args)
	if strings.Contains(sql, "session_object_links") {
		return pgconn.NewCommandTag("INSERT 0 3"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakeTx) Commit(ctx context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(ctx context.Context) error {
	if !f.committed {
		f.rolledBack = true
	}
	return nil
}

func (f *fakeTx) Begin(ctx context.Context) (pgx.Tx, error) { return f, nil }
func (f *fakeTx) Conn() *pgx.Conn                           { return nil }
func (f *fakeTx) LargeObjects() pgx.LargeObjects            { return pgx.LargeObjects{} }

func (f *fakeTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}

func (f *fakeTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }

func (f *fakeTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}

func (f *fakeTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}

func (f *fakeTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }

type fakePool struct {
	tx      *fakeTx
	execs   []string
	args    [][]any
	pingErr error
}

func (f *fakePool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, sql)
	f.args = append(f.args, args)
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) { return f.tx, nil }
func (f *fakePool) Ping(ctx context.Context) error            { return f.pingErr }
func (f *fakePool) Close()                                    {}

func testLinkJob() *jobs.LinkJob {
	return &jobs.LinkJob{
		SessionID:    "sess-1",
		UserID:       "user-1",
		ExperimentID: "exp-1",
		StartTime:    time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		EndTime:      time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
	}
}

func TestLinkSessionHappyPath(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	s := newStore(&fakePool{tx: tx})

	linked, err := s.LinkSession(context.Background(), testLinkJob())
	if err != nil {
		t.Fatalf("LinkSession error: %v", err)
	}
	if linked != 3 {
		t.Errorf("linked = %d, want 3", linked)
	}
	if !tx.committed {
		t.Error("transaction was not committed")
	}
	if tx.rolledBack {
		t.Error("committed transaction must not roll back")
	}

	wantOrder := []string{"UPDATE sessions", "session_object_links", "images", "audio_clips", "UPDATE sessions"}
	if len(tx.statements) != len(wantOrder) {
		t.Fatalf("executed %d statements, want %d", len(tx.statements), len(wantOrder))
	}
	for i, fragment := range wantOrder {
		if !strings.Contains(tx.statements[i], fragment) {
			t.Errorf("statement %d = %q, want it to contain %q", i, tx.statements[i], fragment)
		}
	}

	// The statuses driven through the transaction must be a legal walk of
	// the link-status state machine.
	first, ok := tx.args[0][1].(models.LinkStatus)
	if !ok || first != models.LinkStatusProcessing {
		t.Errorf("first status update = %v, want %v", tx.args[0][1], models.LinkStatusProcessing)
	}
	last, ok := tx.args[4][1].(models.LinkStatus)
	if !ok || last != models.LinkStatusCompleted {
		t.Errorf("final status update = %v, want %v", tx.args[4][1], models.LinkStatusCompleted)
	}
	if !models.LinkStatusPending.CanTransitionTo(first) || !first.CanTransitionTo(last) {
		t.Errorf("status walk pending -> %v -> %v is not a legal transition chain", first, last)
	}
}

func TestLinkSessionOverlapPredicate(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{}
	s := newStore(&fakePool{tx: tx})

	if _, err := s.LinkSession(context.Background(), testLinkJob()); err != nil {
		t.Fatalf("LinkSession error: %v", err)
	}

	var joinSQL string
	for _, stmt := range tx.statements {
		if strings.Contains(stmt, "session_object_links") {
			joinSQL = stmt
		}
	}
	// Half-open overlap: object starts before session end, ends after
	// session start.
	if !strings.Contains(joinSQL, "start_time < $3") || !strings.Contains(joinSQL, "end_time > $4") {
		t.Errorf("overlap join predicate wrong: %q", joinSQL)
	}
	if !strings.Contains(joinSQL, "ON CONFLICT (session_id, object_id) DO NOTHING") {
		t.Errorf("junction insert must ignore duplicates: %q", joinSQL)
	}

	// The SQL's strict comparisons must agree with models.Overlaps at the
	// boundaries: touching endpoints do not link.
	job := testLinkJob()
	if models.Overlaps(job.EndTime, job.EndTime.Add(time.Hour), job.StartTime, job.EndTime) {
		t.Error("object starting exactly at session end must not overlap")
	}
	if models.Overlaps(job.StartTime.Add(-time.Hour), job.StartTime, job.StartTime, job.EndTime) {
		t.Error("object ending exactly at session start must not overlap")
	}
	if !models.Overlaps(job.EndTime.Add(-time.Minute), job.EndTime.Add(time.Minute), job.StartTime, job.EndTime) {
		t.Error("object straddling the session end must overlap")
	}
}

func TestLinkSessionRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	tx := &fakeTx{failOn: "audio_clips"}
	s := newStore(&fakePool{tx: tx})

	if _, err := s.LinkSession(context.Background(), testLinkJob()); err == nil {
		t.Fatal("LinkSession should fail")
	}
	if tx.committed {
		t.Error("failed transaction must not commit")
	}
	if !tx.rolledBack {
		t.Error("failed transaction must roll back")
	}
}

func TestMarkLinkFailedRunsOutsideTransaction(t *testing.T) {
	t.Parallel()

	p := &fakePool{tx: &fakeTx{}}
	s := newStore(p)

	if err := s.MarkLinkFailed(context.Background(), "sess-1"); err != nil {
		t.Fatalf("MarkLinkFailed error: %v", err)
	}
	if len(p.execs) != 1 || !strings.Contains(p.execs[0], "link_status") {
		t.Errorf("expected one pool-level status update, got %v", p.execs)
	}
	if status, ok := p.args[0][1].(models.LinkStatus); !ok || status != models.LinkStatusFailed {
		t.Errorf("status written = %v, want %v", p.args[0][1], models.LinkStatusFailed)
	}
	if len(p.tx.statements) != 0 {
		t.Error("MarkLinkFailed must not use a transaction")
	}
}

func TestInsertsAreIdempotent(t *testing.T) {
	t.Parallel()

	p := &fakePool{tx: &fakeTx{}}
	s := newStore(p)
	ctx := context.Background()

	now := time.Now().UTC()
	if err := s.InsertImage(ctx, &models.ImageObject{ObjectID: "k1", UserID: "u", SessionID: "s", TimestampUTC: now}); err != nil {
		t.Fatalf("InsertImage error: %v", err)
	}
	if err := s.InsertAudioClip(ctx, &models.AudioClipObject{ObjectID: "k2", UserID: "u", SessionID: "s", StartTime: now, EndTime: now.Add(time.Second)}); err != nil {
		t.Fatalf("InsertAudioClip error: %v", err)
	}
	if err := s.InsertRawDataObject(ctx, &models.RawDataObject{ObjectID: "k3", UserID: "u", StartTime: now, EndTime: now.Add(time.Second), DataType: "eeg"}); err != nil {
		t.Fatalf("InsertRawDataObject error: %v", err)
	}

	for _, sql := range p.execs {
		if !strings.Contains(sql, "ON CONFLICT (object_id) DO NOTHING") {
			t.Errorf("insert is not idempotent: %q", sql)
		}
	}
}
