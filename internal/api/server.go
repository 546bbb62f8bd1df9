package api

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// NewServer creates and returns a configured *http.Server for bankd.
func NewServer(port uint16, svc BankService, log *slog.Logger) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           NewRouter(svc, log),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
