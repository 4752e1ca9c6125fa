package sqlshim

import (
	"net/url"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/go-dbx/dbx"
)

func init() {
	RegisterMySQL()
}

// RegisterMySQL wires go-sql-driver/mysql under the "mysql" scheme, so
// importing this package is enough to open mysql:// URLs.
func RegisterMySQL() {
	Register("mysql", "mysql", MySQLDSN)
}

// MySQLDSN renders a go-sql-driver DSN from a mysql:// URL. Query parameters
// the pool did not consume are passed through as driver parameters.
func MySQLDSN(u *url.URL) (string, error) {
	cfg := mysql.NewConfig()
	cfg.Net = "tcp"
	cfg.Addr = u.Host
	cfg.DBName = strings.TrimPrefix(u.Path, "/")
	if u.User != nil {
		cfg.User = u.User.Username()
		cfg.Passwd, _ = u.User.Password()
	}
	_, rest, err := dbx.ParsePoolOptions(u.Query())
	if err != nil {
		return "", err
	}
	if len(rest) > 0 {
		cfg.Params = make(map[string]string, len(rest))
		for k := range rest {
			cfg.Params[k] = rest.Get(k)
		}
	}
	return cfg.FormatDSN(), nil
}
