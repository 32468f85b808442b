// Package shutdown runs cleanup hooks in reverse registration order.
//
// The client registers one hook per resource it opens (config watcher,
// storage engine) and runs them all on Close:
//
//	h := shutdown.NewHandler(5 * time.Second)
//	h.OnShutdown(func(ctx context.Context) error { return store.Close() })
//	err := h.Shutdown(context.Background())
package shutdown
