// Package app wires scriptgate together: configuration, logging,
// OpenTelemetry, the entitlement store, services, the HTTP router and the
// event hub.
//
// # Initialization Flow
//
//  1. Load configuration from defaults, an optional YAML file and the environment
//  2. Initialize logging and OpenTelemetry
//  3. Connect the entitlement store selected by the store driver
//  4. Create the entitlement and health services and the event hub
//  5. Build the chi router and the HTTP server
//
// # Usage
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	application, err := app.NewApplication()
//	if err != nil {
//	    return err
//	}
//	return application.Run(ctx)
//
// # Graceful Shutdown
//
// When the context passed to Run is cancelled the server stops accepting
// connections, in-flight requests complete, websocket subscribers are closed,
// the store connections are released and telemetry is flushed. The package
// never calls os.Exit.
package app
