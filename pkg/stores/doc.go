// Package stores provides the durable persistence layer backing the
// deployment engine. The SQLite implementation runs in WAL mode with
// synchronous writes, so every run and operation record transition is
// durable before the call returns; a crash immediately afterwards
// loses nothing.
package stores
