// Package mitmsession correlates traffic seen by an intercepting proxy with
// the browser sessions that produced it.
//
// A proxy goroutine handling a request resolves the session it belongs to,
// then waits for the browser instrumentation to report the request's
// metadata. The instrumentation side feeds its messages to Ingest. Either
// side may arrive first.
//
// # Basic Usage
//
//	engine, err := mitmsession.NewEngine()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer engine.Close()
//
//	s, err := engine.Open("run-42", userAgent, nil)
//	...
//	// in the proxy handler
//	s, err := engine.ResolveSession(ctx, req)
//	res, err := engine.AwaitRequest(ctx, s, req)
//
// AwaitRequest matches on the absolute request URL, rebuilt by RequestURL
// when the proxy received the request in origin form (path only).
//
// # Configuration
//
// Defaults are read from the environment (UPGRADE_TIMEOUT_MS,
// PENDING_RESOURCE_MAX, CLOSE_ALL_TIMEOUT_MS, SESSION_HEADER_PREFIX and the
// LOG_* variables) and can be overridden with options:
//
//	engine, err := mitmsession.NewEngine(
//	    mitmsession.WithLogLevel("debug"),
//	    mitmsession.WithUpgradeTimeout(5*time.Second),
//	)
package mitmsession
