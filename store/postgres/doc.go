// Package postgres implements the workflow store on PostgreSQL with pgx/v5.
//
// Records live in the gateway_workflows table. Progress is a JSONB column
// merged with the || operator while the row is held with SELECT ... FOR
// UPDATE, so concurrent patches are never lost. The schema is created by
// embedded SQL migrations tracked in gateway_migrations.
package postgres
