// Package store defines the persistence contracts of the pipeline engine.
//
// The engine owns no durable state of its own. Participant data, session
// state, session tags and history channels live behind the interfaces in this
// package and are loaded at run start and committed at run end:
//
//	type Store interface {
//	    ParticipantStore // participant data, full-replace semantics
//	    SessionStore     // session state + session tags
//	    HistoryStore     // named history channels per session
//	}
//
// Backends live in sub-packages:
//
//   - store/memory: in-process maps, the default and the test backend
//   - store/redis: github.com/redis/go-redis/v9, optional key TTL
//   - store/postgres: github.com/jackc/pgx/v5 with JSONB columns
//   - store/sqlite: github.com/mattn/go-sqlite3 for single-node deployments
//
// The redis backend additionally implements task.Store so that task status
// can be polled from any process sharing the backend.
package store
