package httpcodec

import "strconv"

// Status is an HTTP response status code. StatusUndefined (numeric 0, not a
// real HTTP status) is the sentinel the parser returns for a code it cannot
// classify.
type Status int

const (
	StatusUndefined Status = 0

	StatusOK                  Status = 200
	StatusCreated              Status = 201
	StatusAccepted             Status = 202
	StatusNoContent            Status = 204
	StatusMovedPermanently     Status = 301
	StatusFound                Status = 302
	StatusNotModified          Status = 304
	StatusBadRequest           Status = 400
	StatusUnauthorized         Status = 401
	StatusForbidden            Status = 403
	StatusNotFound             Status = 404
	StatusMethodNotAllowed     Status = 405
	StatusConflict             Status = 409
	StatusGone                 Status = 410
	StatusTooManyRequests      Status = 429
	StatusInternalServerError  Status = 500
	StatusNotImplemented       Status = 501
	StatusBadGateway           Status = 502
	StatusServiceUnavailable   Status = 503
)

var descriptions = map[Status]string{
	StatusOK:                 "OK",
	StatusCreated:             "Created",
	StatusAccepted:            "Accepted",
	StatusNoContent:           "No Content",
	StatusMovedPermanently:    "Moved Permanently",
	StatusFound:               "Found",
	StatusNotModified:         "Not Modified",
	StatusBadRequest:          "Bad Request",
	StatusUnauthorized:        "Unauthorized",
	StatusForbidden:           "Forbidden",
	StatusNotFound:            "Not Found",
	StatusMethodNotAllowed:    "Method Not Allowed",
	StatusConflict:            "Conflict",
	StatusGone:                "Gone",
	StatusTooManyRequests:     "Too Many Requests",
	StatusInternalServerError: "Internal Server Error",
	StatusNotImplemented:      "Not Implemented",
	StatusBadGateway:          "Bad Gateway",
	StatusServiceUnavailable:  "Service Unavailable",
}

// Description returns the IANA-standard reason phrase for a code in the
// recognized set. Any other code in 2xx-5xx gets its class phrase
// ("Success", "Redirection", "Client Error", "Server Error"); everything
// else, 1xx included, is "Undefined".
func (s Status) Description() string {
	if d, ok := descriptions[s]; ok {
		return d
	}
	switch {
	case s >= 200 && s < 300:
		return "Success"
	case s >= 300 && s < 400:
		return "Redirection"
	case s >= 400 && s < 500:
		return "Client Error"
	case s >= 500 && s < 600:
		return "Server Error"
	default:
		return "Undefined"
	}
}

// Class returns a coarse classification of s: "success", "redirection",
// "client_error", "server_error", or "undefined" for anything outside
// 2xx-5xx (1xx included).
func (s Status) Class() string {
	switch {
	case s >= 200 && s < 300:
		return "success"
	case s >= 300 && s < 400:
		return "redirection"
	case s >= 400 && s < 500:
		return "client_error"
	case s >= 500 && s < 600:
		return "server_error"
	default:
		return "undefined"
	}
}

// ParseStatus parses the 3-digit status-line token. A malformed token (not
// exactly 3 decimal digits) yields StatusUndefined rather than an error, so
// the caller can degrade to a default response instead of panicking.
func ParseStatus(token []byte) Status {
	if len(token) != 3 {
		return StatusUndefined
	}
	n, err := strconv.Atoi(string(token))
	if err != nil || n < 100 || n > 599 {
		return StatusUndefined
	}
	return Status(n)
}
