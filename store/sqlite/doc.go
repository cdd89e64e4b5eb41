// Package sqlite provides SQLite-backed persistence for participant data,
// session state, session tags and history channels, for single node
// deployments.
//
//	s, err := sqlite.NewSqliteStore(sqlite.SqliteOptions{Path: "./chatpipe.db"})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//	exec := engine.New(engine.WithStore(s))
//
// The schema is created on open. JSON values are stored as TEXT.
package sqlite
