/*
Package migrate copies a ledger from one backend to another.

PURPOSE:
  Moves every client and sale from a source backend (usually a local SQLite
  file) to a target backend (usually PostgreSQL), preserving primary keys
  and the stored aggregates.

COPY RULES:
  - Clients are copied before sales so every sale finds its client.
  - Rows are read with keyset pagination (id > last ORDER BY id).
  - Each batch is written in ONE target transaction. A failing batch is
    rolled back and reported as *BatchError; earlier batches stay
    committed, so a re-run resumes where the failure happened.
  - A row whose key already exists on the target is skipped, never
    overwritten. Running the bridge twice is harmless.

AGGREGATES:
  Client rows arrive with their aggregates already computed. The target's
  aggregate trigger is suspended inside each batch transaction; otherwise
  every copied sale would be counted a second time.

VERIFICATION:
  After both tables are copied the target key generators are resynced and
  source/target row counts are compared (Report.Verified).

SEE ALSO:
  - storage/statements.go: *InsertWithID, *Page, *ResyncKeys
  - cmd/ledgerd: the migrate command
*/
package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/warp/client-ledger/storage"
)

// DefaultBatchSize is used when Bridge.BatchSize is not positive.
const DefaultBatchSize = 100

// Bridge copies all ledger data from Source to Target.
// Target's schema must already exist (schema.Manager.Ensure).
type Bridge struct {
	Source    storage.Backend
	Target    storage.Backend
	BatchSize int
	Logger    zerolog.Logger
}

// TableReport counts one table's copy.
type TableReport struct {
	Table       string `json:"table"`
	Read        int64  `json:"read"`
	Inserted    int64  `json:"inserted"`
	Skipped     int64  `json:"skipped"`
	Batches     int    `json:"batches"`
	SourceCount int64  `json:"source_count"`
	TargetCount int64  `json:"target_count"`
}

// Report is the outcome of one Run.
type Report struct {
	RunID    uuid.UUID     `json:"run_id"`
	Clients  TableReport   `json:"clients"`
	Sales    TableReport   `json:"sales"`
	Verified bool          `json:"verified"`
	Duration time.Duration `json:"duration"`
}

// BatchError reports a batch that was rolled back. Batches before it are
// committed.
type BatchError struct {
	Table    string
	FirstKey int64
	LastKey  int64
	Err      error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("migrate %s: batch with keys %d..%d failed: %v", e.Table, e.FirstKey, e.LastKey, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// =============================================================================
// TABLES
// =============================================================================

// table describes how to page, copy and count one table. scan reads one
// page row and returns its key and the *InsertWithID arguments, which
// follow the row's column order.
type table struct {
	name   string
	page   storage.Statement
	insert storage.Statement
	resync storage.Statement
	count  storage.Statement
	scan   func(storage.Rows) (int64, []any, error)
}

var tables = []table{
	{
		name:   "clients",
		page:   storage.ClientPage,
		insert: storage.ClientInsertWithID,
		resync: storage.ClientResyncKeys,
		count:  storage.ClientCount,
		scan:   scanClientRow,
	},
	{
		name:   "sales",
		page:   storage.SalePage,
		insert: storage.SaleInsertWithID,
		resync: storage.SaleResyncKeys,
		count:  storage.SaleCount,
		scan:   scanSaleRow,
	},
}

func scanClientRow(r storage.Rows) (int64, []any, error) {
	var (
		id, age, totalCents, count, bp                     int64
		name, address, email, phone, company, tier, status string
		registered, updated, notes                         string
		last                                               *string
	)
	err := r.Scan(&id, &name, &age, &address, &email, &phone, &company, &tier, &status,
		&registered, &updated, &notes, &totalCents, &count, &last, &bp)
	if err != nil {
		return 0, nil, err
	}
	var lastPurchase any
	if last != nil {
		lastPurchase = *last
	}
	return id, []any{id, name, age, address, email, phone, company, tier, status,
		registered, updated, notes, totalCents, count, lastPurchase, bp}, nil
}

func scanSaleRow(r storage.Rows) (int64, []any, error) {
	var (
		id, clientID, totalCents, bp                       int64
		date, clock, products, payment, salesperson, notes string
	)
	err := r.Scan(&id, &clientID, &date, &clock, &products, &totalCents, &bp,
		&payment, &salesperson, &notes)
	if err != nil {
		return 0, nil, err
	}
	return id, []any{id, clientID, date, clock, products, totalCents, bp,
		payment, salesperson, notes}, nil
}

// =============================================================================
// RUN
// =============================================================================

type record struct {
	key  int64
	args []any
}

// Run copies every table, resyncs target keys and verifies counts. The
// report is returned even on error and holds the progress made so far.
func (b *Bridge) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	rep := &Report{RunID: uuid.New()}
	log := b.Logger.With().Str("run_id", rep.RunID.String()).Logger()

	batch := b.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}

	log.Info().
		Str("source", b.Source.Capabilities().Dialect).
		Str("target", b.Target.Capabilities().Dialect).
		Int("batch_size", batch).
		Msg("migration started")

	reports := []*TableReport{&rep.Clients, &rep.Sales}
	for i, t := range tables {
		tr := reports[i]
		tr.Table = t.name
		err := b.copyTable(ctx, log, t, batch, tr)
		rep.Duration = time.Since(start)
		if err != nil {
			log.Error().Err(err).Str("table", t.name).Msg("migration aborted")
			return rep, err
		}
	}

	rep.Verified = true
	for i, t := range tables {
		tr := reports[i]
		if _, err := b.Target.Exec(ctx, t.resync); err != nil {
			return rep, fmt.Errorf("migrate %s: resync keys: %w", t.name, err)
		}
		if err := storage.QueryRow(ctx, b.Source, t.count, nil, &tr.SourceCount); err != nil {
			return rep, fmt.Errorf("migrate %s: count source: %w", t.name, err)
		}
		if err := storage.QueryRow(ctx, b.Target, t.count, nil, &tr.TargetCount); err != nil {
			return rep, fmt.Errorf("migrate %s: count target: %w", t.name, err)
		}
		if tr.SourceCount != tr.TargetCount {
			rep.Verified = false
			log.Warn().
				Str("table", t.name).
				Int64("source", tr.SourceCount).
				Int64("target", tr.TargetCount).
				Msg("row counts differ")
		}
	}

	rep.Duration = time.Since(start)
	log.Info().
		Int64("clients_inserted", rep.Clients.Inserted).
		Int64("clients_skipped", rep.Clients.Skipped).
		Int64("sales_inserted", rep.Sales.Inserted).
		Int64("sales_skipped", rep.Sales.Skipped).
		Bool("verified", rep.Verified).
		Dur("duration", rep.Duration).
		Msg("migration finished")
	return rep, nil
}

func (b *Bridge) copyTable(ctx context.Context, log zerolog.Logger, t table, batch int, tr *TableReport) error {
	var after int64
	for {
		page, err := b.readPage(ctx, t, after, batch)
		if err != nil {
			return fmt.Errorf("migrate %s: read after key %d: %w", t.name, after, err)
		}
		if len(page) == 0 {
			return nil
		}
		tr.Read += int64(len(page))

		inserted, skipped, err := b.writeBatch(ctx, t, page)
		if err != nil {
			return &BatchError{
				Table:    t.name,
				FirstKey: page[0].key,
				LastKey:  page[len(page)-1].key,
				Err:      err,
			}
		}
		tr.Inserted += inserted
		tr.Skipped += skipped
		tr.Batches++

		log.Debug().
			Str("table", t.name).
			Int64("first_key", page[0].key).
			Int64("last_key", page[len(page)-1].key).
			Int64("inserted", inserted).
			Int64("skipped", skipped).
			Msg("batch committed")

		after = page[len(page)-1].key
		if len(page) < batch {
			return nil
		}
	}
}

// readPage drains one source page before any target write starts.
func (b *Bridge) readPage(ctx context.Context, t table, after int64, limit int) ([]record, error) {
	rows, err := b.Source.Query(ctx, t.page, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var page []record
	for rows.Next() {
		key, args, err := t.scan(rows)
		if err != nil {
			return nil, err
		}
		page = append(page, record{key: key, args: args})
	}
	return page, rows.Err()
}

func (b *Bridge) writeBatch(ctx context.Context, t table, page []record) (inserted, skipped int64, err error) {
	err = storage.WithTx(ctx, b.Target, func(tx storage.Tx) error {
		inserted, skipped = 0, 0
		if _, err := tx.Exec(ctx, storage.AggregatesSuspend); err != nil {
			return fmt.Errorf("suspend aggregates: %w", err)
		}
		for _, rec := range page {
			res, err := tx.Exec(ctx, t.insert, rec.args...)
			if err != nil {
				return fmt.Errorf("key %d: %w", rec.key, err)
			}
			if res.RowsAffected == 0 {
				skipped++
			} else {
				inserted++
			}
		}
		if _, err := tx.Exec(ctx, storage.AggregatesResume); err != nil {
			return fmt.Errorf("resume aggregates: %w", err)
		}
		return nil
	})
	return inserted, skipped, err
}
