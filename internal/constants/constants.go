package constants

// Advisory lock ids. They live in a range unlikely to collide with other applications
// sharing the same PostgreSQL database.
const (
	MigrationLock = 7_411_000 + iota
)
