// Package app composes the domain services into a running application.
//
// The package wires stores, services and external integrations together and
// manages their lifecycle. Business logic lives in the service packages under
// internal/app/services; app only builds and connects them.
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	├── storage/            # Store interfaces, memory and postgres backends
//	├── services/           # Accounts, social, streams, chat, payments, ...
//	├── httpapi/            # REST and websocket surface
//	├── metrics/            # Prometheus collectors
//	├── system/             # Service lifecycle manager
//	└── runtime/            # Config-driven assembly and the HTTP server
//
// Construction order inside New follows the dependency direction: stores
// first, then services, then the lifecycle manager. Integrations left nil in
// Options (mailer, pusher, payment processor, uploads) disable the matching
// feature instead of failing.
package app
