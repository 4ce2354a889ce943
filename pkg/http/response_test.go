package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func doHandler(t *testing.T, h echo.HandlerFunc, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	if err := h(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return env
}

func TestDataResponseKeepsWire200(t *testing.T) {
	rec := doHandler(t, func(c echo.Context) error {
		return DataResponse(c, http.StatusBadRequest, "nope")
	}, "")

	if rec.Code != http.StatusOK {
		t.Fatalf("wire status = %d, want 200", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusBadRequest || env.Message != "Bad Request" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestStatusResponseSetsWireStatus(t *testing.T) {
	rec := doHandler(t, func(c echo.Context) error {
		return StatusResponse(c, http.StatusUnauthorized, "Authorization required")
	}, "")

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wire status = %d, want 401", rec.Code)
	}
	if env := decodeEnvelope(t, rec); env.Status != http.StatusUnauthorized {
		t.Fatalf("envelope status = %d", env.Status)
	}
}

func TestAppErrorResponse(t *testing.T) {
	rec := doHandler(t, func(c echo.Context) error {
		return AppErrorResponse(c, ConflictError("already running").WithError(errors.New("busy")))
	}, "")

	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusConflict {
		t.Fatalf("envelope status = %d, want 409", env.Status)
	}
	data, _ := json.Marshal(env.Data)
	if !strings.Contains(string(data), "ERR_CONFLICT") {
		t.Fatalf("data = %s", data)
	}
	if strings.Contains(string(data), "busy") {
		t.Fatal("wrapped cause leaked into the response")
	}
}

func TestAppErrorResponseUnknownErrorBecomes500(t *testing.T) {
	rec := doHandler(t, func(c echo.Context) error {
		return AppErrorResponse(c, errors.New("boom"))
	}, "")

	env := decodeEnvelope(t, rec)
	if env.Status != http.StatusInternalServerError {
		t.Fatalf("envelope status = %d, want 500", env.Status)
	}
	data, _ := json.Marshal(env.Data)
	if strings.Contains(string(data), "boom") {
		t.Fatal("internal error text leaked")
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := InternalError("analysis failed").WithError(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to reach the cause")
	}
	if got := err.Error(); !strings.Contains(got, "root") {
		t.Fatalf("Error() = %q", got)
	}
}

func TestReadAndValidateRequest(t *testing.T) {
	type req struct {
		Symbol string `json:"symbol" validate:"required,max=12"`
		Limit  int    `json:"limit" default:"50" validate:"gte=1,lte=500"`
	}

	e := echo.New()

	// Valid body gets defaults filled.
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"symbol":"SPY"}`))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(r, httptest.NewRecorder())

	var in req
	if verr := ReadAndValidateRequest(c, &in); verr != nil {
		t.Fatalf("unexpected validation error: %+v", verr)
	}
	if in.Limit != 50 {
		t.Fatalf("default not applied, limit = %d", in.Limit)
	}

	// Missing required field.
	r = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	r.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c = e.NewContext(r, httptest.NewRecorder())

	var bad req
	verr := ReadAndValidateRequest(c, &bad)
	if verr == nil {
		t.Fatal("expected validation errors")
	}
	ves, ok := verr.([]ValidationError)
	if !ok || len(ves) == 0 {
		t.Fatalf("unexpected validation result %T %+v", verr, verr)
	}
	if ves[0].Code != "ERR_REQUIRED" || ves[0].Field != "Symbol" {
		t.Fatalf("unexpected detail %+v", ves[0])
	}
}
