package database

import (
	"net"
	"net/url"
	"strconv"

	"github.com/rickgao/conference-signal/internal/config"
)

// ApplicationName is reported to PostgreSQL for journal sessions.
const ApplicationName = "conference-signal"

// BuildConnString builds a PostgreSQL URL from cfg. Credentials are
// escaped by net/url and IPv6 hosts are bracketed.
func BuildConnString(cfg config.DBConfig) string {
	params := url.Values{}
	params.Set("sslmode", cfg.SSLMode)
	if cfg.SSLMode == "" {
		params.Set("sslmode", config.DefaultDBSSLMode)
	}
	params.Set("application_name", ApplicationName)

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Path:     "/" + cfg.Name,
		RawQuery: params.Encode(),
	}
	return u.String()
}
