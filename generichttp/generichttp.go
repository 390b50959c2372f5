// Package generichttp defines the route tables devices use to describe
// their HTTP interface, and handlers that adapt plain getter and setter
// functions to JSON over HTTP
package generichttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"
)

// MethodPath is a struct containing an HTTP method and a URL path
type MethodPath struct {
	Method string
	Path   string
}

// String returns "METHOD /path"
func (mp MethodPath) String() string {
	return mp.Method + " " + mp.Path
}

// RouteTable maps method/path pairs to handlers
type RouteTable map[MethodPath]http.HandlerFunc

// Endpoints lists the routes of the table, sorted by path then method
func (rt RouteTable) Endpoints() []string {
	keys := make([]MethodPath, 0, len(rt))
	for k := range rt {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Path != keys[j].Path {
			return keys[i].Path < keys[j].Path
		}
		return keys[i].Method < keys[j].Method
	})
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

// Bind registers every route on r, plus GET /endpoints listing them
func (rt RouteTable) Bind(r chi.Router) {
	for mp, h := range rt {
		r.MethodFunc(mp.Method, mp.Path, h)
	}
	ep := MethodPath{Method: http.MethodGet, Path: "/endpoints"}
	if _, ok := rt[ep]; !ok {
		r.Get(ep.Path, func(w http.ResponseWriter, req *http.Request) {
			ReplyJSON(w, req, rt.Endpoints())
		})
	}
}

// HTTPer is anything which has a route table
type HTTPer interface {
	RT() RouteTable
}

// SubMuxSanitize converts an endpoint such as "omc/nkt", "/omc/nkt/" or
// "/omc/nkt/*" into the "/omc/nkt" form chi mounts on
func SubMuxSanitize(str string) string {
	str = strings.TrimSuffix(str, "*")
	str = strings.Trim(str, "/")
	return "/" + str
}

// IntT is a struct with a single field, Int, and json tag int
type IntT struct {
	Int int64 `json:"int"`
}

// StrT is a struct with a single field, Str, and json tag str
type StrT struct {
	Str string `json:"str"`
}

// BoolT is a struct with a single field, Bool, and json tag bool
type BoolT struct {
	Bool bool `json:"bool"`
}

// FloatT is a struct with a single field, F64, and json tag f64
type FloatT struct {
	F64 float64 `json:"f64"`
}

// ReplyJSON encodes v as the JSON body of a 200 response
func ReplyJSON(w http.ResponseWriter, r *http.Request, v interface{}) {
	render.JSON(w, r, v)
}

// CodedError is answered by the getters and setters with Code instead of
// StatusInternalServerError
type CodedError struct {
	Code int
	Err  error
}

func (e CodedError) Error() string { return e.Err.Error() }

func (e CodedError) Unwrap() error { return e.Err }

// Status returns the code of the first CodedError in the chain of err, or
// StatusInternalServerError
func Status(err error) int {
	var ce CodedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return http.StatusInternalServerError
}

// GetInt calls an int-getting function and returns the response
// as json {'int': value}
func GetInt(fcn func() (int64, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		ReplyJSON(w, r, IntT{Int: i})
	}
}

// SetInt parses a JSON input of {'int': value} and
// calls fcn with it
func SetInt(fcn func(int64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		i := IntT{}
		err := json.NewDecoder(r.Body).Decode(&i)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(i.Int)
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetString calls a string-getting function and returns the response
// as json {'str': value}
func GetString(fcn func() (string, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		ReplyJSON(w, r, StrT{Str: s})
	}
}

// SetString parses a JSON input of {'str': value} and
// calls fcn with it
func SetString(fcn func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s := StrT{}
		err := json.NewDecoder(r.Body).Decode(&s)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(s.Str)
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

// GetBool calls a bool-getting function and returns the response
// as json {'bool': value}
func GetBool(fcn func() (bool, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := fcn()
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		ReplyJSON(w, r, BoolT{Bool: b})
	}
}

// SetBool parses a JSON input of {'bool': value} and
// calls fcn with it
func SetBool(fcn func(bool) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b := BoolT{}
		err := json.NewDecoder(r.Body).Decode(&b)
		defer r.Body.Close()
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		err = fcn(b.Bool)
		if err != nil {
			http.Error(w, err.Error(), Status(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}
