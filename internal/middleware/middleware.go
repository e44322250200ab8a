package middleware

import (
	"net/http"

	"github.com/mailchymp/mailchymp/internal/config"
	"github.com/mailchymp/mailchymp/internal/database"
	"github.com/mailchymp/mailchymp/internal/logger"
)

// Middleware holds all HTTP middleware
type Middleware struct {
	rdb *database.Redis
	log *logger.Logger
	cfg *config.Config
}

// New creates a new Middleware instance
func New(rdb *database.Redis, log *logger.Logger, cfg *config.Config) *Middleware {
	return &Middleware{
		rdb: rdb,
		log: log.WithComponent("http"),
		cfg: cfg,
	}
}

// writeError writes the JSON error envelope used by every API response
func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write([]byte(`{"error":{"code":"` + code + `","message":"` + message + `"}}`))
}
