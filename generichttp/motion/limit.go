package motion

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nosseb/gomac/generichttp"
	"github.com/nosseb/gomac/util"
)

// ErrLimit is returned for a move that would end outside an axis's software limits
var ErrLimit = errors.New("requested position violates software limits, aborted")

// LimitMiddleware imposes axis-specific limits on motion.  Moves which would
// end outside the limits are answered with StatusBadRequest and never reach
// the mover
type LimitMiddleware struct {
	// Limits contains the server imposed limits on the controller
	Limits map[string]util.Limiter

	// Mov is a reference to the mover, used to resolve relative moves
	Mov Mover
}

// endpoint returns where a move would end; the body of r is left readable
func (l *LimitMiddleware) endpoint(r *http.Request, axis string) (float64, error) {
	body, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		return 0, requestError{err}
	}
	r.Body = io.NopCloser(bytes.NewReader(body))
	x, relative, err := moveRequest(r)
	r.Body = io.NopCloser(bytes.NewReader(body))
	if err != nil || !relative {
		return x, err
	}
	pos, err := l.Mov.GetPos(r.Context(), axis)
	return pos + x, err
}

// Check verifies if a motion would violate the axis limit, if it exists,
// and if it does, responds with StatusBadRequest
// otherwise, flows control to the next handler.
//
// The axis is taken from the route, so Check must wrap the handler of a
// route and not the router
func (l *LimitMiddleware) Check(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		axis := chi.URLParam(r, "axis")
		limiter, ok := l.Limits[axis]
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		end, err := l.endpoint(r, axis)
		if err != nil {
			http.Error(w, err.Error(), statusOf(l.Mov, err))
			return
		}
		if !limiter.Check(end) {
			err = fmt.Errorf("%w: %s to %v, limits %v..%v", ErrLimit, axis, end, limiter.Min, limiter.Max)
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// Inject places a /axis/{axis}/limits route on the table of the HTTPer and
// guards its move route with Check
func (l *LimitMiddleware) Inject(h generichttp.HTTPer) {
	rt := h.RT()
	rt[generichttp.MethodPath{Method: http.MethodGet, Path: "/axis/{axis}/limits"}] = l.GetLimits
	move := generichttp.MethodPath{Method: http.MethodPost, Path: "/axis/{axis}/pos"}
	if hndl, ok := rt[move]; ok {
		rt[move] = l.Check(hndl).ServeHTTP
	}
}

// GetLimits replies with the limits of an axis, or null if it has none
func (l *LimitMiddleware) GetLimits(w http.ResponseWriter, r *http.Request) {
	lim, ok := l.Limits[chi.URLParam(r, "axis")]
	if !ok {
		generichttp.ReplyJSON(w, r, nil)
		return
	}
	generichttp.ReplyJSON(w, r, lim)
}
