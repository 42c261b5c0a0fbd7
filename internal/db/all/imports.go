// Package all registers every built-in db backend via blank imports. Binaries
// import it once instead of naming individual backends.
package all

import (
	_ "github.com/dmelanson/rhino-etl/internal/db/mssql"
	_ "github.com/dmelanson/rhino-etl/internal/db/mysql"
	_ "github.com/dmelanson/rhino-etl/internal/db/postgres"
	_ "github.com/dmelanson/rhino-etl/internal/db/sqlite"
)
