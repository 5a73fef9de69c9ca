package httpserver

import "net/http"

// Routes groups handlers.
type Routes struct {
	Poll       http.HandlerFunc
	SessionsMe http.HandlerFunc
	GrantsMe   http.HandlerFunc
	Reap       http.HandlerFunc
	Health     http.HandlerFunc
}

// NewRouter registers endpoints.
func NewRouter(routes Routes) http.Handler {
	mux := http.NewServeMux()
	if routes.Poll != nil {
		mux.Handle("/internal/poll", method(http.MethodPost, routes.Poll))
	}
	if routes.SessionsMe != nil {
		mux.Handle("/sessions/me", method(http.MethodGet, routes.SessionsMe))
	}
	if routes.GrantsMe != nil {
		mux.Handle("/grants/me", method(http.MethodGet, routes.GrantsMe))
	}
	if routes.Reap != nil {
		mux.Handle("/internal/reap", method(http.MethodPost, routes.Reap))
	}
	if routes.Health != nil {
		mux.Handle("/health", method(http.MethodGet, routes.Health))
	}
	return mux
}

func method(expected string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != expected {
			w.Header().Set("Allow", expected)
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		handler(w, r)
	}
}
