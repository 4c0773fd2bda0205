// Package all wires all built-in storage backends into the storage factory.
//
// This package exists purely for side effects: importing it (even as a blank
// import) runs the init functions of each concrete backend, which register
// their factories with the storage package. Importing it makes the following
// storage kinds available at runtime:
//
//   - "postgres" (hospitaletl/internal/storage/postgres)
//   - "mssql"    (hospitaletl/internal/storage/mssql)
//   - "sqlite"   (hospitaletl/internal/storage/sqlite)
//
// Typical usage (in cmd/etl):
//
//	import _ "hospitaletl/internal/storage/all"
//
//	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
package all

import (
	_ "hospitaletl/internal/storage/mssql"
	_ "hospitaletl/internal/storage/postgres"
	_ "hospitaletl/internal/storage/sqlite"
)
