// Package knowledge stores notes dictated to the assistant and answers
// lookups against them, in memory or in PostgreSQL.
package knowledge
