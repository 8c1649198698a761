// Package core assembles the assistant from configuration and owns the
// lifecycle of its background work: the session sweep, retention purge,
// safety cleanup and the feedback worker.
//
//	c, err := core.New(cfg, logger)
//	if err != nil { ... }
//	if err := c.Start(ctx); err != nil { ... }
//	defer c.Shutdown(shutdownCtx)
//
//	sess, resp, err := c.Sessions().Start(ctx, "user-1", "hello")
package core
