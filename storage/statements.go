package storage

// Statement names a parameterized statement. Every adapter maps every name
// below to SQL in its own dialect.
type Statement string

// Column layouts shared by all adapters.
//
// Client rows are returned as:
//
//	id, full_name, age, address, email, phone, company, tier, status,
//	registered_on, updated_at, notes, total_purchases_cents, purchase_count,
//	last_purchase (nullable), discount_bp
//
// Sale rows are returned as:
//
//	id, client_id, sale_date, sale_time, products, total_cents, discount_bp,
//	payment_method, salesperson, notes
//
// Dates are bound and returned as "2006-01-02", sale times as "15:04:05" and
// timestamps as "2006-01-02T15:04:05Z". Money is an integer count of cents,
// discounts an integer count of basis points. Optional filters are bound as nil.
const (
	// Schema. No arguments unless noted.
	SchemaTables         Statement = "schema.tables"
	SchemaIndexes        Statement = "schema.indexes"
	SchemaSettings       Statement = "schema.settings"        // (vip_threshold_cents, vip_discount_bp, aggregate_strategy)
	SchemaInstallTrigger Statement = "schema.install_trigger" //
	SchemaDropTrigger    Statement = "schema.drop_trigger"    //
	SchemaTierPolicy     Statement = "schema.tier_policy"     // -> vip_threshold_cents, vip_discount_bp
	SchemaStrategy       Statement = "schema.strategy"        // -> aggregate_strategy

	// Clients.
	ClientInsert         Statement = "client.insert"          // (full_name, age, address, email, phone, company, tier, status, registered_on, updated_at, notes, discount_bp) -> id
	ClientInsertWithID   Statement = "client.insert_with_id"  // (id, full_name, age, address, email, phone, company, tier, status, registered_on, updated_at, notes, total_cents, purchase_count, last_purchase, discount_bp), skip if id exists
	ClientGet            Statement = "client.get"             // (id) -> client row
	ClientLockForSale    Statement = "client.lock_for_sale"   // (id) -> client row, row-locked until the transaction ends
	ClientSearch         Statement = "client.search"          // (pattern, status, tier, limit) -> client rows by id; limit 0 = all
	ClientSearchByName   Statement = "client.search_by_name"  // ClientSearch ordered by lower-cased name, then id
	ClientUpdateProfile  Statement = "client.update_profile"  // (full_name, age, address, email, phone, company, tier, status, notes, discount_bp, updated_at, id)
	ClientUpdateStatus   Statement = "client.update_status"   // (status, updated_at, id)
	ClientApplyAggregate Statement = "client.apply_aggregate" // (total_cents, purchase_count, last_purchase, tier, discount_bp, updated_at, id)
	ClientPage           Statement = "client.page"            // (after_id, limit) -> client rows by id
	ClientCount          Statement = "client.count"           // -> count
	ClientResyncKeys     Statement = "client.resync_keys"     // align the key generator after explicit-key inserts

	// Sales.
	SaleInsert       Statement = "sale.insert"         // (client_id, sale_date, sale_time, products, total_cents, discount_bp, payment_method, salesperson, notes) -> id
	SaleInsertWithID Statement = "sale.insert_with_id" // (id, client_id, sale_date, sale_time, products, total_cents, discount_bp, payment_method, salesperson, notes), skip if id exists
	SaleGet          Statement = "sale.get"            // (id) -> sale row
	SaleList         Statement = "sale.list"           // (client_id, from_date, to_date, payment_method, limit) -> sale rows, newest first
	SalePage         Statement = "sale.page"           // (after_id, limit) -> sale rows by id
	SaleCount        Statement = "sale.count"          // -> count
	SaleResyncKeys   Statement = "sale.resync_keys"    //

	// Aggregate trigger bypass, transaction-scoped. Used by bulk copies whose
	// client rows already carry their aggregates.
	AggregatesSuspend Statement = "aggregates.suspend"
	AggregatesResume  Statement = "aggregates.resume"

	// Reports and audit.
	ReportClientCounts  Statement = "report.client_counts"   // -> total, active, vip
	ReportSalesTotals   Statement = "report.sales_totals"    // (from_date, to_date) -> count, sum_cents
	ReportTopClients    Statement = "report.top_clients"     // (limit) -> id, full_name, tier, total_cents, purchase_count
	ReportClientsByTier Statement = "report.clients_by_tier" // -> tier, count
	AuditAggregates     Statement = "audit.aggregates"       // -> id, total_cents, purchase_count, sales_sum_cents, sales_count (mismatches only)
)

// AllStatements lists every statement an adapter must define.
var AllStatements = []Statement{
	SchemaTables, SchemaIndexes, SchemaSettings, SchemaInstallTrigger, SchemaDropTrigger, SchemaTierPolicy, SchemaStrategy,
	ClientInsert, ClientInsertWithID, ClientGet, ClientLockForSale, ClientSearch, ClientSearchByName,
	ClientUpdateProfile, ClientUpdateStatus, ClientApplyAggregate, ClientPage, ClientCount, ClientResyncKeys,
	SaleInsert, SaleInsertWithID, SaleGet, SaleList, SalePage, SaleCount, SaleResyncKeys,
	AggregatesSuspend, AggregatesResume,
	ReportClientCounts, ReportSalesTotals, ReportTopClients, ReportClientsByTier, AuditAggregates,
}
