package drivers

import (
	// "pgx" for PostgreSQL.
	_ "github.com/jackc/pgx/v5/stdlib"
)
