package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

var (
	ErrOrderNotFound        = errors.New("order not found")
	ErrDuplicateTransaction = errors.New("merchant transaction id already exists")
	ErrCartNotFound         = errors.New("cart not found")
)

const mysqlDuplicateEntry = 1062

func isDuplicateKey(err error) bool {
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}
