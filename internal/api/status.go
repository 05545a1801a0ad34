package api

import (
	"net/http"

	"tubemux/internal/services"
)

// StatusForKind maps an error classification to an HTTP status code.
func StatusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindNotFound, services.KindArtifactMissing:
		return http.StatusNotFound
	case services.KindNotReady, services.KindAlreadyFailed, services.KindNoCompletedItems:
		return http.StatusConflict
	case services.KindInvalidEncoding, services.KindNoMatchingCounterpart:
		return http.StatusUnprocessableEntity
	case services.KindInvalidSource, services.KindEmptyList:
		return http.StatusBadRequest
	case services.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
