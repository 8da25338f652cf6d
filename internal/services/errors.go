package services

import (
	goa "goa.design/goa/v3/pkg"
)

// Error names mapped to HTTP statuses by the transport
const (
	ErrNameBadRequest   = "bad_request"
	ErrNameNotFound     = "not_found"
	ErrNameUnauthorized = "unauthorized"
	ErrNameUnavailable  = "unavailable"
)

func badRequest(format string, v ...any) *goa.ServiceError {
	return goa.PermanentError(ErrNameBadRequest, format, v...)
}

func notFound(format string, v ...any) *goa.ServiceError {
	return goa.PermanentError(ErrNameNotFound, format, v...)
}

func unauthorized(format string, v ...any) *goa.ServiceError {
	return goa.PermanentError(ErrNameUnauthorized, format, v...)
}

func unavailable(format string, v ...any) *goa.ServiceError {
	return goa.TemporaryError(ErrNameUnavailable, format, v...)
}

