package httphandler

import (
	"net/http"
	"time"
)

type Server struct {
	*http.Server
}

// TryListenAndServe starts the http server, it returns the error ListenAndServe fails with within d
// or nil if the server is still running after d
func (s *Server) TryListenAndServe(d time.Duration) error {
	errC := make(chan error, 1)
	go func() {
		err := s.Server.ListenAndServe()
		if err != nil && err != http.ErrServerClosed {
			errC <- err
		}
	}()

	select {
	case err := <-errC:
		return err
	case <-time.After(d):
		return nil
	}
}
