package sqlite

import (
	"github.com/warp/client-ledger/storage"
	"github.com/warp/client-ledger/storage/sqldb"
)

const clientColumns = `id, full_name, age, address, email, phone, company, tier, status,
	registered_on, updated_at, notes, total_purchases_cents, purchase_count,
	last_purchase, discount_bp`

const saleColumns = `id, client_id, sale_date, sale_time, products, total_cents, discount_bp,
	payment_method, salesperson, notes`

const schemaTables = `
	-- Clients. Aggregates are derived from sales and only change with them.
	CREATE TABLE IF NOT EXISTS clients (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		full_name TEXT NOT NULL,
		age INTEGER NOT NULL,
		address TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT NOT NULL,
		company TEXT NOT NULL DEFAULT '',
		tier TEXT NOT NULL DEFAULT 'Regular',
		status TEXT NOT NULL DEFAULT 'Active',
		registered_on TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		notes TEXT NOT NULL DEFAULT '',
		total_purchases_cents INTEGER NOT NULL DEFAULT 0 CHECK (total_purchases_cents >= 0),
		purchase_count INTEGER NOT NULL DEFAULT 0 CHECK (purchase_count >= 0),
		last_purchase TEXT,
		discount_bp INTEGER NOT NULL DEFAULT 0 CHECK (discount_bp BETWEEN 0 AND 10000)
	);

	-- Sales (append-only)
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		client_id INTEGER NOT NULL REFERENCES clients (id) ON DELETE RESTRICT,
		sale_date TEXT NOT NULL,
		sale_time TEXT NOT NULL,
		products TEXT NOT NULL,
		total_cents INTEGER NOT NULL CHECK (total_cents >= 0),
		discount_bp INTEGER NOT NULL DEFAULT 0 CHECK (discount_bp BETWEEN 0 AND 10000),
		payment_method TEXT NOT NULL DEFAULT 'Cash',
		salesperson TEXT NOT NULL DEFAULT '',
		notes TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS ledger_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		vip_threshold_cents INTEGER NOT NULL,
		vip_discount_bp INTEGER NOT NULL,
		aggregate_strategy TEXT NOT NULL DEFAULT 'application'
	);

	CREATE TABLE IF NOT EXISTS aggregate_suspensions (
		token TEXT PRIMARY KEY
	);
`

const schemaIndexes = `
	CREATE INDEX IF NOT EXISTS idx_clients_full_name ON clients (full_name);
	CREATE INDEX IF NOT EXISTS idx_clients_email ON clients (email);
	CREATE INDEX IF NOT EXISTS idx_clients_tier ON clients (tier);
	CREATE INDEX IF NOT EXISTS idx_sales_sale_date ON sales (sale_date);
	CREATE INDEX IF NOT EXISTS idx_sales_client_id ON sales (client_id);
`

// The CASE arithmetic mirrors ledger.TierPolicy.Apply. All SET expressions
// see the pre-update row.
const installTrigger = `
	CREATE TRIGGER IF NOT EXISTS trg_sales_apply_aggregates
	AFTER INSERT ON sales
	FOR EACH ROW
	WHEN NOT EXISTS (SELECT 1 FROM aggregate_suspensions)
	BEGIN
		UPDATE clients SET
			total_purchases_cents = total_purchases_cents + NEW.total_cents,
			purchase_count = purchase_count + 1,
			last_purchase = CASE
				WHEN last_purchase IS NULL OR NEW.sale_date > last_purchase THEN NEW.sale_date
				ELSE last_purchase END,
			tier = CASE
				WHEN total_purchases_cents + NEW.total_cents >=
					(SELECT vip_threshold_cents FROM ledger_settings WHERE id = 1) THEN 'VIP'
				ELSE tier END,
			discount_bp = CASE
				WHEN tier = 'VIP' OR total_purchases_cents + NEW.total_cents >=
					(SELECT vip_threshold_cents FROM ledger_settings WHERE id = 1)
				THEN (SELECT vip_discount_bp FROM ledger_settings WHERE id = 1)
				ELSE discount_bp END,
			updated_at = MAX(updated_at, strftime('%Y-%m-%dT%H:%M:%SZ', 'now'))
		WHERE id = NEW.client_id;
	END;
`

// clientFilter is the WHERE clause shared by the client searches.
const clientFilter = `
		WHERE (?1 IS NULL OR full_name LIKE ?1 ESCAPE '\' OR email LIKE ?1 ESCAPE '\' OR company LIKE ?1 ESCAPE '\')
		  AND (?2 IS NULL OR status = ?2)
		  AND (?3 IS NULL OR tier = ?3)
`

var statements = map[storage.Statement]sqldb.Stmt{
	storage.SchemaTables:         {SQL: schemaTables},
	storage.SchemaIndexes:        {SQL: schemaIndexes},
	storage.SchemaInstallTrigger: {SQL: installTrigger},
	storage.SchemaDropTrigger:    {SQL: `DROP TRIGGER IF EXISTS trg_sales_apply_aggregates`},
	storage.SchemaSettings: {SQL: `
		INSERT INTO ledger_settings (id, vip_threshold_cents, vip_discount_bp, aggregate_strategy)
		VALUES (1, ?1, ?2, ?3)
		ON CONFLICT (id) DO UPDATE SET
			vip_threshold_cents = excluded.vip_threshold_cents,
			vip_discount_bp = excluded.vip_discount_bp,
			aggregate_strategy = excluded.aggregate_strategy`},
	storage.SchemaTierPolicy: {SQL: `SELECT vip_threshold_cents, vip_discount_bp FROM ledger_settings WHERE id = 1`},
	storage.SchemaStrategy:   {SQL: `SELECT aggregate_strategy FROM ledger_settings WHERE id = 1`},

	storage.ClientInsert: {Kind: sqldb.KindInsert, SQL: `
		INSERT INTO clients
		(full_name, age, address, email, phone, company, tier, status,
		 registered_on, updated_at, notes, discount_bp)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12)`},
	storage.ClientInsertWithID: {Kind: sqldb.KindInsert, SQL: `
		INSERT INTO clients
		(id, full_name, age, address, email, phone, company, tier, status,
		 registered_on, updated_at, notes, total_purchases_cents, purchase_count,
		 last_purchase, discount_bp)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11, ?12, ?13, ?14, ?15, ?16)
		ON CONFLICT (id) DO NOTHING`},
	storage.ClientGet:         {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id = ?1`},
	storage.ClientLockForSale: {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id = ?1`},
	storage.ClientSearch: {SQL: `
		SELECT ` + clientColumns + ` FROM clients` + clientFilter + `
		ORDER BY id
		LIMIT CASE WHEN ?4 > 0 THEN ?4 ELSE -1 END`},
	storage.ClientSearchByName: {SQL: `
		SELECT ` + clientColumns + ` FROM clients` + clientFilter + `
		ORDER BY lower(full_name), id
		LIMIT CASE WHEN ?4 > 0 THEN ?4 ELSE -1 END`},
	storage.ClientUpdateProfile: {SQL: `
		UPDATE clients SET
			full_name = ?1, age = ?2, address = ?3, email = ?4, phone = ?5, company = ?6,
			tier = ?7, status = ?8, notes = ?9, discount_bp = ?10,
			updated_at = MAX(updated_at, ?11)
		WHERE id = ?12`},
	storage.ClientUpdateStatus: {SQL: `
		UPDATE clients SET status = ?1, updated_at = MAX(updated_at, ?2) WHERE id = ?3`},
	storage.ClientApplyAggregate: {SQL: `
		UPDATE clients SET
			total_purchases_cents = ?1, purchase_count = ?2, last_purchase = ?3,
			tier = ?4, discount_bp = ?5, updated_at = MAX(updated_at, ?6)
		WHERE id = ?7`},
	storage.ClientPage:       {SQL: `SELECT ` + clientColumns + ` FROM clients WHERE id > ?1 ORDER BY id LIMIT ?2`},
	storage.ClientCount:      {SQL: `SELECT COUNT(*) FROM clients`},
	storage.ClientResyncKeys: {}, // AUTOINCREMENT follows explicit keys

	storage.SaleInsert: {Kind: sqldb.KindInsert, SQL: `
		INSERT INTO sales
		(client_id, sale_date, sale_time, products, total_cents, discount_bp,
		 payment_method, salesperson, notes)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9)`},
	storage.SaleInsertWithID: {Kind: sqldb.KindInsert, SQL: `
		INSERT INTO sales
		(id, client_id, sale_date, sale_time, products, total_cents, discount_bp,
		 payment_method, salesperson, notes)
		VALUES (?1, ?2, ?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10)
		ON CONFLICT (id) DO NOTHING`},
	storage.SaleGet: {SQL: `SELECT ` + saleColumns + ` FROM sales WHERE id = ?1`},
	storage.SaleList: {SQL: `
		SELECT ` + saleColumns + ` FROM sales
		WHERE (?1 IS NULL OR client_id = ?1)
		  AND (?2 IS NULL OR sale_date >= ?2)
		  AND (?3 IS NULL OR sale_date <= ?3)
		  AND (?4 IS NULL OR payment_method = ?4)
		ORDER BY sale_date DESC, sale_time DESC, id DESC
		LIMIT CASE WHEN ?5 > 0 THEN ?5 ELSE -1 END`},
	storage.SalePage:       {SQL: `SELECT ` + saleColumns + ` FROM sales WHERE id > ?1 ORDER BY id LIMIT ?2`},
	storage.SaleCount:      {SQL: `SELECT COUNT(*) FROM sales`},
	storage.SaleResyncKeys: {},

	storage.AggregatesSuspend: {SQL: `INSERT OR IGNORE INTO aggregate_suspensions (token) VALUES ('bulk-copy')`},
	storage.AggregatesResume:  {SQL: `DELETE FROM aggregate_suspensions`},

	storage.ReportClientCounts: {SQL: `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN status = 'Active' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN tier = 'VIP' THEN 1 ELSE 0 END), 0)
		FROM clients`},
	storage.ReportSalesTotals: {SQL: `
		SELECT COUNT(*), COALESCE(SUM(total_cents), 0)
		FROM sales
		WHERE (?1 IS NULL OR sale_date >= ?1)
		  AND (?2 IS NULL OR sale_date <= ?2)`},
	storage.ReportTopClients: {SQL: `
		SELECT id, full_name, tier, total_purchases_cents, purchase_count
		FROM clients
		WHERE status = 'Active'
		ORDER BY total_purchases_cents DESC, id ASC
		LIMIT ?1`},
	storage.ReportClientsByTier: {SQL: `
		SELECT tier, COUNT(*) FROM clients WHERE status = 'Active' GROUP BY tier ORDER BY tier`},
	storage.AuditAggregates: {SQL: `
		SELECT c.id, c.total_purchases_cents, c.purchase_count,
		       COALESCE(SUM(s.total_cents), 0), COUNT(s.id)
		FROM clients c
		LEFT JOIN sales s ON s.client_id = c.id
		GROUP BY c.id, c.total_purchases_cents, c.purchase_count
		HAVING c.total_purchases_cents <> COALESCE(SUM(s.total_cents), 0)
		    OR c.purchase_count <> COUNT(s.id)
		ORDER BY c.id`},
}
