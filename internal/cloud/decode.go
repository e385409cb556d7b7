package cloud

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"

	apperr "github.com/alexjbarnes/iotcloud/internal/errors"
	"github.com/alexjbarnes/iotcloud/internal/metrics"
	"github.com/tidwall/gjson"
)

// validator is implemented by response types that reject payloads which
// parse as JSON but do not carry the fields a success requires.
type validator interface {
	Validate() error
}

// noContent is implemented by response types that accept an empty 2xx
// body as {ok: true}.
type noContent interface {
	MarkOK()
}

func isSuccess(status int) bool {
	return status >= 200 && status <= 299
}

// decode applies the response policy: empty 2xx into a no-content type,
// then the expected schema, then a structured error payload, then the
// HTTP status, then a DecodingError. Decode failures never escape raw.
func decode[T any](resp *response) (T, error) {
	var out T

	if len(resp.body) == 0 && isSuccess(resp.status) {
		if nc, ok := any(&out).(noContent); ok {
			nc.MarkOK()
			return out, nil
		}
	}

	if isSuccess(resp.status) {
		err := json.Unmarshal(resp.body, &out)
		if err == nil {
			if v, ok := any(&out).(validator); ok {
				err = v.Validate()
			}
		}

		if err == nil {
			return out, nil
		}

		if se := structuredError(resp); se != nil {
			var zero T
			return zero, se
		}

		var zero T

		return zero, &apperr.DecodingError{
			What: typeName[T](),
			Err:  fmt.Errorf("%w (body: %s)", err, sanitizeResponseBody(resp.body)),
		}
	}

	return out, serverError(resp)
}

// serverError builds the error for a non-2xx response.
func serverError(resp *response) error {
	if se := structuredError(resp); se != nil {
		return se
	}

	return &apperr.ServerError{
		StatusCode:  resp.status,
		Description: http.StatusText(resp.status),
	}
}

// structuredError extracts the server's error payload. The API is not
// consistent about field names: error_description, info, and message
// all carry the human-readable text depending on the endpoint. A bare
// string error field with no other hint counts as a payload only when
// it is non-empty.
func structuredError(resp *response) *apperr.ServerError {
	if !gjson.ValidBytes(resp.body) {
		return nil
	}

	res := gjson.ParseBytes(resp.body)
	if !res.IsObject() {
		return nil
	}

	code := res.Get("error").String()
	desc := firstString(res, "error_description", "info", "message")

	if code == "" && desc == "" {
		return nil
	}

	if code == "" && res.Get("ok").Exists() && res.Get("ok").Bool() {
		return nil
	}

	return &apperr.ServerError{
		StatusCode:  resp.status,
		Code:        code,
		Description: desc,
		MFAToken:    res.Get("mfa_token").String(),
	}
}

func firstString(res gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := res.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}

	return ""
}

func typeName[T any]() string {
	t := reflect.TypeFor[T]()
	if t.Name() != "" {
		return t.Name()
	}

	return t.String()
}

func outcomeOf(err error) string {
	var (
		te *apperr.TransportError
		se *apperr.ServerError
		de *apperr.DecodingError
	)

	switch {
	case err == nil:
		return metrics.OutcomeOK
	case errors.As(err, &te):
		return metrics.OutcomeTransport
	case errors.As(err, &se):
		return metrics.OutcomeServer
	case errors.As(err, &de):
		return metrics.OutcomeDecoding
	}

	return metrics.OutcomeTransport
}
