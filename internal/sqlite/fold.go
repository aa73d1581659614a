package sqlite

import (
	"database/sql/driver"
	"fmt"
	"strings"

	modernc "modernc.org/sqlite"
)

// foldFunc is the SQL name of the Unicode lowercasing function. SQLite's
// own lower() only folds ASCII.
const foldFunc = "fold"

func init() {
	modernc.MustRegisterDeterministicScalarFunction(foldFunc, 1, fold)
}

// fold lowercases the text form of its argument the way types.ContainsFold
// does, so both engines agree on case-insensitive matches.
func fold(_ *modernc.FunctionContext, args []driver.Value) (driver.Value, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s expects 1 argument", foldFunc)
	}
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return strings.ToLower(fmt.Sprint(v)), nil
	}
}
