// Package knowledge implements the knowledge similarity collaborator: an
// in-memory store for tests and a PostgreSQL/pgvector store for production.
package knowledge
