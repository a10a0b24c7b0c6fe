// Package database provides PostgreSQL connection pools.
//
// Two components may use Postgres, each with its own pool:
//   - the postgres token store (device token shared across hosts)
//   - the delivery history writer
package database
