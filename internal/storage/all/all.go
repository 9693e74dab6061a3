// Package all registers every storage backend.
package all

import (
	_ "sucupira/internal/storage/mssql"
	_ "sucupira/internal/storage/postgres"
	_ "sucupira/internal/storage/sqlite"
)
