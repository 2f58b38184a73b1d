package server

import (
	"net/http"
	"time"

	"github.com/wb-go/wbf/ginext"
)

// New creates the courier's HTTP server. The read-header timeout bounds
// slow webhook callers; the write timeout stays generous because an
// immediate send blocks until its terminal delivery result.
func New(addr string, router *ginext.Engine) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		WriteTimeout:      3 * time.Minute,
	}
}
