// Package device provides the device store for the IoT console.
//
// Every device belongs to exactly one owner. The Store is the only way the
// rest of the console reads or writes devices: it validates input, enforces
// ownership, keeps the append-only action log, and publishes a realtime
// change notification after each successful mutation.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────┐
//	│                           Device Store                            │
//	│                                                                   │
//	│  ┌──────────────────┐    ┌──────────────────┐    ┌─────────────┐  │
//	│  │      Store       │    │    Repository    │    │  Validation │  │
//	│  │    (store.go)    │───▶│ (repository.go)  │    │(validation) │  │
//	│  │ • ownership      │    │ • SQLite queries │    │ • all fields│  │
//	│  │ • error kinds    │    │ • UNIQUE(owner,  │    │   at once   │  │
//	│  │ • action log     │    │   device_id)     │    └─────────────┘  │
//	│  │ • notifications  │    └──────────────────┘                     │
//	│  └──────────────────┘                                             │
//	│           │                                                       │
//	└───────────│───────────────────────────────────────────────────────┘
//	            ▼
//	   realtime.Notifier  ──▶  synchronizers, Kafka export
//
// # Liveness
//
// A device's liveness is derived, never stored. DeriveLiveness combines the
// is_online flag with the age of the last heartbeat:
//
//	healthy   online and age ≤ 60s
//	stale     online and 60s < age ≤ 120s
//	offline   everything else
//
// # Errors
//
// Failures are reported as one of five kinds (network, permission,
// duplicate, validation, not found). Use Kind to classify any error
// returned by the Store, and UserMessage for display text.
//
// # Usage
//
//	store := device.NewStore(device.NewSQLiteRepository(db.DB), audit.NewSQLiteRepository(db.DB))
//	store.SetLogger(log)
//	store.SetNotifier(feed)
//
//	d, err := store.CreateDevice(ctx, device.CreateInput{
//	    DeviceID: "LIGHT_001",
//	    Name:     "Kitchen Ceiling",
//	    Type:     device.TypeLight,
//	    Location: "Kitchen",
//	}, userID)
package device
