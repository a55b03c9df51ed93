package postgres

import (
	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqldb"
)

// Dates and timestamps are rendered in the same text layouts SQLite stores.
const clientColumns = `id, full_name, age, address, email, phone, company, tier, status,
	to_char(registered_on, 'YYYY-MM-DD'),
	to_char(updated_at AT TIME ZONE 'UTC', 'YYYY-MM-DD"T"HH24:MI:SS"Z"'),
	notes, total_purchases_cents, purchase_count,
	to_char(last_purchase, 'YYYY-MM-DD'), discount_bp`

const saleColumns = `id, client_id, to_char(sale_date, 'YYYY-MM-DD'), to_char(sale_time, 'HH24:MI:SS'),
	products, total_cents, discount_bp, payment_method, salesperson, notes`

const schemaTables = `
	CREATE TABLE IF NOT EXISTS clients (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		full_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		address TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'Regular',
		status TEXT NOT NULL DEFAULT 'Active',
		registered_on DATE NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		total_purchases_cents BIGINT NOT NULL DEFAULT 0 CHECK (total_purchases_cents >= 0),
		purchase_count BIGINT NOT NULL DEFAULT 0 CHECK (purchase_count >= 0),
		last_purchase DATE,
		discount_bp INTEGER NOT NULL DEFAULT 0 CHECK (discount_bp BETWEEN 0 AND 10000)
	);

	CREATE TABLE IF NOT EXISTS sales (
		id BIGINT GENERATED BY DEFAULT AS IDENTITY PRIMARY KEY,
		client_id BIGINT NOT NULL REFERENCES clients (id) ON DELETE RESTRICT,
		sale_date DATE NOT NULL,
		sale_time TIME NOT NULL,
		products TEXT NOT NULL,
		total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
		discount_bp INTEGER NOT NULL DEFAULT 0 CHECK (discount_bp BETWEEN 0 AND 10000),
		payment_method TEXT NOT NULL DEFAULT 'Cash',
		salesperson TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ledger_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		vip_threshold_cents BIGINT NOT NULL,
		vip_discount_bp INTEGER NOT NULL,
		aggregate_strategy TEXT NOT NULL DEFAULT 'application'
	);
`

const schemaIndexes = `
	CREATE INDEX IF NOT EXISTS idx_clients_full_name ON clients (full_name);
	CREATE INDEX IF NOT EXISTS idx_clients_email ON clients (email);
	CREATE INDEX IF NOT EXISTS idx_clients_tier ON clients (tier);
	CREATE INDEX IF NOT EXISTS idx_sales_sale_date ON sales (sale_date);
	CREATE INDEX IF NOT EXISTS idx_sales_client_id ON sales (client_id);
`

// Same arithmetic as ledger.TierPolicy.Apply and the SQLite trigger.
// ledger.suspend_aggregates is set transaction-locally by bulk copies.
const installTrigger = `
	CREATE OR REPLACE FUNCTION ledger_apply_sale_aggregates() RETURNS trigger AS $$
	DECLARE
		threshold BIGINT;
		vip_discount INTEGER;
	BEGIN
		IF current_setting('ledger.suspend_aggregates', true) = 'on' THEN
			RETURN NEW;
		END IF;

		SELECT vip_threshold_cents, vip_discount_bp INTO threshold, vip_discount
		FROM ledger_settings WHERE id = 1;

		UPDATE clients SET
			total_purchases_cents = total_purchases_cents + NEW.total_cents,
			purchase_count = purchase_count + 1,
			last_purchase = GREATEST(last_purchase, NEW.sale_date),
			tier = CASE
				WHEN total_purchases_cents + NEW.total_cents >= threshold THEN 'VIP'
				ELSE tier END,
			discount_bp = CASE
				WHEN tier = 'VIP' OR total_purchases_cents + NEW.total_cents >= threshold THEN vip_discount
				ELSE discount_bp END,
			updated_at = GREATEST(updated_at, date_trunc('second', now()))
		WHERE id = NEW.client_id;

		RETURN NEW;
	END;
	$$ LANGUAGE plpgsql;

	DROP TRIGGER IF EXISTS trg_sales_apply_aggregates ON sales;
	CREATE TRIGGER trg_sales_apply_aggregates
		AFTER INSERT ON sales
		FOR EACH ROW EXECUTE FUNCTION ledger_apply_sale_aggregates();
`

const dropTrigger = `
	DROP TRIGGER IF EXISTS trg_sales_apply_aggregates ON sales;
	DROP FUNCTION IF EXISTS ledger_apply_sale_aggregates();
`

// clientFilter is the WHERE clause shared by the client searches.
const clientFilter = `
		WHERE ($1::text IS NULL OR full_name ILIKE $1 ESCAPE '\' OR email ILIKE $1 ESCAPE '\' OR company ILIKE $1 ESCAPE '\')
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR tier = $3)
`

var statements = map[storage.Statement]sqldb.Stmt{
	storage.SchemaTables:         {SQL: schemaTables},
	storage.SchemaIndexes:        {SQL: schemaIndexes},
	storage.SchemaInstallTrigger: {SQL: installTrigger},
	storage.SchemaDropTrigger:    {SQL: dropTrigger},
	storage.SchemaSettings: {SQL: `
		INSERT INTO ledger_settings (id, vip_threshold_cents, vip_discount_bp, aggregate_strategy)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			vip_threshold_cents = EXCLUDED.vip_threshold_cents,
			vip_discount_bp = EXCLUDED.vip_discount_bp,
			aggregate_strategy = EXCLUDED.aggregate_strategy`},
	storage.SchemaTierPolicy: {SQL: `SELECT vip_threshold_cents, vip_discount_bp FROM ledger_settings WHERE id = 1`},
	storage.SchemaStrategy:   {SQL: `SELECT aggregate_strategy FROM ledger_settings WHERE id = 1`},

	storage.ClientInsert: {Kind: sqldb.KindInsertReturning, SQL: `
		INSERT INTO clients
		(full_name, age, address, email, phone, company, tier, status,
		 registered_on, updated_at, notes, discount_bp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::date, $10::timestamptz, $11, $12)
		RETURNING id`},
	storage.ClientInsertWithID: {Kind: sqldb.KindInsertReturning, SQL: `
		INSERT INTO clients
		(id, full_name, age, address, email, phone, company, tier, status,
		 registered_on, updated_at, notes, total_purchases_cents, purchase_count,
		 last_purchase, discount_bp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::date, $11::timestamptz, $12, $13, $14, $15::date, $16)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`},
	storage.ClientGet:         {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id = $1`},
	storage.ClientLockForSale: {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id = $1 FOR UPDATE`},
	storage.ClientSearch: {SQL: `
		SELECT ` + clientColumns + ` FROM clients` + clientFilter + `
		ORDER BY id
		LIMIT NULLIF($4::bigint, 0)`},
	storage.ClientSearchByName: {SQL: `
		SELECT ` + clientColumns + ` FROM clients` + clientFilter + `
		ORDER BY lower(full_name), id
		LIMIT NULLIF($4::bigint, 0)`},
	storage.ClientUpdateProfile: {SQL: `
		UPDATE clients SET
			full_name = $1, age = $2, address = $3, email = $4, phone = $5, company = $6,
			tier = $7, status = $8, notes = $9, discount_bp = $10,
			updated_at = GREATEST(updated_at, $11::timestamptz)
		WHERE id = $12`},
	storage.ClientUpdateStatus: {SQL: `
		UPDATE clients SET status = $1, updated_at = GREATEST(updated_at, $2::timestamptz) WHERE id = $3`},
	storage.ClientApplyAggregate: {SQL: `
		UPDATE clients SET
			total_purchases_cents = $1, purchase_count = $2, last_purchase = $3::date,
			tier = $4, discount_bp = $5, updated_at = GREATEST(updated_at, $6::timestamptz)
		WHERE id = $7`},
	storage.ClientPage:  {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id > $1 ORDER BY id LIMIT $2`},
	storage.ClientCount: {SQL: `SELECT COUNT(*) FROM clients`},
	storage.ClientResyncKeys: {SQL: `
		SELECT setval(pg_get_serial_sequence('clients', 'id'),
		              COALESCE((SELECT MAX(id) FROM clients), 1),
		              (SELECT COUNT(*) > 0 FROM clients))`},

	storage.SaleInsert: {Kind: sqldb.KindInsertReturning, SQL: `
		INSERT INTO sales
		(client_id, sale_date, sale_time, products, total_cents, discount_bp,
		 payment_method, salesperson, notes)
		VALUES ($1, $2::date, $3::time, $4, $5, $6, $7, $8, $9)
		RETURNING id`},
	storage.SaleInsertWithID: {Kind: sqldb.KindInsertReturning, SQL: `
		INSERT INTO sales
		(id, client_id, sale_date, sale_time, products, total_cents, discount_bp,
		 payment_method, salesperson, notes)
		VALUES ($1, $2, $3::date, $4::time, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO NOTHING
		RETURNING id`},
	storage.SaleGet: {SQL: `SELECT ` + saleColumns + ` FROM sales WHERE id = $1`},
	storage.SaleList: {SQL: `
		SELECT ` + saleColumns + ` FROM sales
		WHERE ($1::bigint IS NULL OR client_id = $1)
		  AND ($2::date IS NULL OR sale_date >= $2::date)
		  AND ($3::date IS NULL OR sale_date <= $3::date)
		  AND ($4::text IS NULL OR payment_method = $4)
		ORDER BY sale_date DESC, sale_time DESC, id DESC
		LIMIT NULLIF($5::bigint, 0)`},
	storage.SalePage:  {SQL: `SELECT ` + saleColumns + ` FROM sales WHERE id > $1 ORDER BY id LIMIT $2`},
	storage.SaleCount: {SQL: `SELECT COUNT(*) FROM sales`},
	storage.SaleResyncKeys: {SQL: `
		SELECT setval(pg_get_serial_sequence('sales', 'id'),
		              COALESCE((SELECT MAX(id) FROM sales), 1),
		              (SELECT COUNT(*) > 0 FROM sales))`},

	storage.AggregatesSuspend: {SQL: `SELECT set_config('ledger.suspend_aggregates', 'on', true)`},
	storage.AggregatesResume:  {SQL: `SELECT set_config('ledger.suspend_aggregates', 'off', true)`},

	storage.ReportClientCounts: {SQL: `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'Active'),
		       COUNT(*) FILTER (WHERE tier = 'VIP')
		FROM clients`},
	storage.ReportSalesTotals: {SQL: `
		SELECT COUNT(*), COALESCE(SUM(total_cents), 0)::bigint
		FROM sales
		WHERE ($1::date IS NULL OR sale_date >= $1::date)
		  AND ($2::date IS NULL OR sale_date <= $2::date)`},
	storage.ReportTopClients: {SQL: `
		SELECT id, full_name, tier, total_purchases_cents, purchase_count
		FROM clients
		WHERE status = 'Active'
		ORDER BY total_purchases_cents DESC, id ASC
		LIMIT $1`},
	storage.ReportClientsByTier: {SQL: `
		SELECT tier, COUNT(*) FROM clients WHERE status = 'Active' GROUP BY tier ORDER BY tier`},
	storage.AuditAggregates: {SQL: `
		SELECT c.id, c.total_purchases_cents, c.purchase_count,
		       COALESCE(SUM(s.total_cents), 0)::bigint, COUNT(s.id)
		FROM clients c
		LEFT JOIN sales s ON s.client_id = c.id
		GROUP BY c.id, c.total_purchases_cents, c.purchase_count
		HAVING c.total_purchases_cents <> COALESCE(SUM(s.total_cents), 0)
		    OR c.purchase_count <> COUNT(s.id)
		ORDER BY c.id`},
}
