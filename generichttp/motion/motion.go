// Package motion provides an HTTP interface to motion controllers.
//
// A Controller need only move its axes; the routes of every other interface
// in this package that it satisfies are added as well.  Every handler passes
// the request's context to the controller, so a client that hangs up cancels
// the call.
package motion

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi"

	"github.com/nosseb/gomac/generichttp"
)

// Controller is used for the HTTP interface, which will check if the concrete
// type satisfies the other interfaces in this package and inject their routes
// automatically
type Controller interface {
	Mover
}

// StatusCoder is implemented by controllers that know which HTTP status their
// errors deserve.  Without it every controller error is a 500
type StatusCoder interface {
	HTTPStatus(error) int
}

// HTTPMotionController wraps a motion controller with HTTP
type HTTPMotionController struct {
	Controller

	RouteTable generichttp.RouteTable
}

// NewHTTPMotionController returns a new HTTP wrapper with the route table pre-configured
func NewHTTPMotionController(c Controller) HTTPMotionController {
	rt := generichttp.RouteTable{}
	HTTPMove(c, rt)
	if e, ok := c.(Enabler); ok {
		HTTPEnable(e, rt)
	}
	if s, ok := c.(Speeder); ok {
		HTTPSpeed(s, rt)
	}
	if i, ok := c.(Initializer); ok {
		HTTPInitialize(i, rt)
	}
	if q, ok := c.(InPositionQueryer); ok {
		HTTPInPosition(q, rt)
	}
	return HTTPMotionController{Controller: c, RouteTable: rt}
}

// RT satisfies the HTTPer interface
func (h HTTPMotionController) RT() generichttp.RouteTable {
	return h.RouteTable
}

// requestError is a fault in the request itself, answered with 400
type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }

func (e requestError) Unwrap() error { return e.err }

func statusOf(c interface{}, err error) int {
	var re requestError
	if errors.As(err, &re) {
		return http.StatusBadRequest
	}
	if sc, ok := c.(StatusCoder); ok {
		return sc.HTTPStatus(err)
	}
	return http.StatusInternalServerError
}

// axisOp is the body of a handler acting on one axis.  A nil reply is
// answered with an empty 200
type axisOp func(ctx context.Context, axis string, r *http.Request) (interface{}, error)

// handle adapts op to an http.HandlerFunc; c decides the status of errors
func handle(c interface{}, op axisOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		reply, err := op(r.Context(), chi.URLParam(r, "axis"), r)
		if err != nil {
			http.Error(w, err.Error(), statusOf(c, err))
			return
		}
		if reply == nil {
			w.WriteHeader(http.StatusOK)
			return
		}
		generichttp.ReplyJSON(w, r, reply)
	}
}

func decode(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return requestError{err}
	}
	return nil
}
