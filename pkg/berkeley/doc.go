// ABOUTME: High-level Berkeley clock synchronization API
// ABOUTME: Provides simple Coordinator and Client types for most use cases
// Package berkeley provides high-level APIs for Berkeley clock synchronization.
//
// This is the main entry point for library users:
//   - Coordinator: accept clients and periodically average everyone's clock
//   - Client: report a local clock on request and apply the corrections
//   - Clock: a time source plus a signed offset, the state being synchronized
//
// Example Coordinator:
//
//	coord, err := berkeley.NewCoordinator(berkeley.CoordinatorConfig{
//	    Addr:          "localhost:5000",
//	    RoundInterval: 20 * time.Second,
//	})
//	err = coord.Start()
//	defer coord.Stop()
//
// Example Client:
//
//	client := berkeley.NewClient(berkeley.ClientConfig{
//	    ServerAddr: "localhost:5000",
//	})
//	err := client.Run(ctx)
package berkeley
