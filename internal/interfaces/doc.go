// Package interfaces documents the core abstractions used throughout the application.
//
// Consumers declare the narrow interface they need next to the code that
// uses it; concrete types live in their own packages. checks.go pins every
// pairing at compile time.
//
// # Interface Categories
//
// ## Data Access Interfaces
//
//   - syncer.Queue: What the sync manager needs from the action queue (internal/syncer/types.go)
//   - http.ActionQueue: Queue operations exposed over HTTP (internal/http/stores.go)
//   - http.BookCache: Content cache operations exposed over HTTP (internal/http/stores.go)
//   - tasks.BookCacher, tasks.ExpiredBookCleaner: Cache work run by background tasks (internal/tasks/)
//
// ## External Service Interfaces
//
//   - network.Prober: Reachability probe against the remote service (internal/network/monitor.go)
//   - cache.Fetcher: Book content download (internal/cache/cache.go)
//   - storage.Client: Object storage access (internal/storage/client.go)
//   - syncer.Dispatcher: Replays one action against the remote service (internal/syncer/types.go)
//
// ## Progress Tracking Interfaces
//
//   - syncer.ProgressReporter: Persisted progress of a sync pass (internal/syncer/types.go)
//   - tasks.CleanupReporter: Outcome of a cache cleanup run (internal/tasks/cleanup_books.go)
//
// # Adding a New Action Type
//
//  1. Add the ActionType constant and its payload in internal/entities/
//
//     type RatingPayload struct {
//         BookID string `json:"book_id"`
//         Stars  int    `json:"stars"`
//         stamp
//     }
//
//  2. Return it from entities.NewPayload and list it in entities.ActionTypes
//
//  3. Map it to an endpoint in remote.Client.ApplyAction
//
// The router picks up every type returned by remote.Client.Handlers, so no
// change to the sync manager is needed.
//
// # Adding a New Content Backend
//
//  1. Implement cache.Fetcher
//
//     type WebDAVFetcher struct {
//         client *http.Client
//         root   string
//     }
//
//     func (f *WebDAVFetcher) FetchBookContent(ctx context.Context, bookID, url string) ([]byte, error)
//
//     var _ cache.Fetcher = (*WebDAVFetcher)(nil)
//
//  2. Select it in newFetcher in internal/entrypoint/app.go
//
// # Compile-Time Interface Checks
//
// All implementations should include compile-time checks to ensure they satisfy
// their interfaces. This catches missing methods at compile time rather than runtime:
//
//	var _ SomeInterface = (*MyImplementation)(nil)
//
// See checks.go for the full list.
package interfaces
