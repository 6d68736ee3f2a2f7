// Package app provides the application context for boxctl.
//
// The App struct is the one process-scoped object handed to the
// constructors of the registry, port manager, notification dispatcher and
// stall detector. Tests build a fresh App per test instead of touching
// globals.
//
//	a := app.New(
//	    app.WithPaths(testPaths),
//	    app.WithHostConfig(cfg),
//	    app.WithClock(clock.Now),
//	)
//
// The host configuration can be swapped at runtime with SetHostConfig;
// components read it through HostConfig each time they need a setting.
package app
