package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/mojito-bar/internal/domain/inventory"
	"github.com/xenking/mojito-bar/internal/domain/order"
)

// statusOf maps domain errors to HTTP status codes. Anything unrecognised is
// an internal error.
func statusOf(err error) int {
	var (
		vErr  *order.ValidationError
		uErr  *order.UnavailableError
		isErr *order.InvalidStateError
		nfErr *order.NotFoundError
		ivErr *inventory.ValidationError
		inErr *inventory.NotFoundError
	)
	switch {
	case errors.As(err, &vErr), errors.As(err, &uErr), errors.As(err, &isErr), errors.As(err, &ivErr):
		return http.StatusBadRequest
	case errors.As(err, &nfErr), errors.As(err, &inErr):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes err as {"code", "message"}. Internal errors are logged
// and their message is not exposed.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusOf(err)
	if code == http.StatusInternalServerError {
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeErrorMessage(w, code, "internal server error")
		return
	}
	writeErrorMessage(w, code, err.Error())
}

func writeErrorMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("code")
		e.Int(code)
		e.FieldStart("message")
		e.Str(message)
		e.ObjEnd()
	})
}

func writeJSON(w http.ResponseWriter, code int, encode func(e *jx.Encoder)) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	encode(e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
