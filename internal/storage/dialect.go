package storage

import (
	"fmt"

	sq "github.com/Masterminds/squirrel"
)

type dialect struct {
	name        string
	driverName  string
	placeholder sq.PlaceholderFormat
	schema      []string
	// returning is set when LastInsertId is unsupported.
	returning   bool
	singleConn  bool
	isDuplicate func(error) bool
}

func dialectFor(name string) (dialect, error) {
	switch name {
	case "mysql":
		return mysqlDialect, nil
	case "sqlite":
		return sqliteDialect, nil
	case "postgres", "pgx":
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("unsupported db driver %q", name)
	}
}
