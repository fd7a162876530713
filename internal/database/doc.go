// Package database provides the data access layer for the application.
//
// # Architecture
//
// The durable store is one SQLite file holding named partitions. Each
// partition is a table keyed by one column with optional secondary indexes:
//
//	database/
//	├── database.go      # Connection setup, migrations, transactions
//	├── store.go         # Generic keyed partition: put, get, index scans, guarded updates
//	├── actions/         # sync_queue partition (action queue records)
//	├── books/           # books and cache_metadata partitions (content cache)
//	└── sync/            # Sync progress tracking
//
// # Using Sub-packages
//
// Each sub-package provides a Repository type with domain-specific operations:
//
//	// Initialize database connection
//	db, err := database.NewDatabase("./data/shelfsync.db")
//
//	// Create domain-specific repositories
//	actionsRepo := actions.NewRepository(db)
//	booksRepo := books.NewRepository(db)
//
//	// Use repositories
//	pending, err := actionsRepo.ListByStatus(ctx, entities.ActionStatusPending)
//	book, err := booksRepo.GetBook(ctx, "b1")
//
// Repositories that take part in a multi-partition change are rebound with
// WithTx inside Database.Transaction.
//
// # Errors
//
// Every failure carries an errs code: a missing key is errs.CodeNotFound
// and anything the driver reports is errs.CodeStorageUnavailable.
//
// # Interface Implementations
//
//   - sync.Repository: implements syncer.ProgressReporter and tasks.CleanupReporter
//
// # Adding a New Partition
//
//  1. Define the record in internal/entities/ with TableName and Key
//  2. Add it to the AutoMigrate list in Open
//  3. Create a sub-package with a Repository wrapping database.Store
package database
