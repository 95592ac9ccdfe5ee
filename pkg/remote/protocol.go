package remote

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/lkjx77/GeoGig/pkg/object"
	"github.com/lkjx77/GeoGig/pkg/status"
)

const (
	// ProtocolVersion is the current wire protocol version.
	ProtocolVersion = "1"

	headerProtocol = "Geogig-Protocol"

	contentTypeJSON    = "application/json"
	contentTypeObjects = "application/x-geogig-objects"
)

// RemoteError is a structured error from the remote server.
type RemoteError struct {
	Code    string            `json:"code"`
	Message string            `json:"error"`
	Detail  string            `json:"detail,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func (e *RemoteError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s (%s): %s", e.Message, e.Code, e.Detail)
	}
	return fmt.Sprintf("%s (%s)", e.Message, e.Code)
}

// Err converts the remote error into a local categorized error. Unknown
// codes are reported as INTERNAL.
func (e *RemoteError) Err() error {
	code := status.Code(e.Code)
	if !code.Valid() {
		code = status.Internal
	}
	return status.WithDetails(code, "remote: "+e.Error(), e.Details)
}

// tryParseRemoteError attempts to parse a JSON error response body.
func tryParseRemoteError(body []byte) *RemoteError {
	var re RemoteError
	if err := json.Unmarshal(body, &re); err != nil {
		return nil
	}
	if re.Message == "" && re.Code == "" {
		return nil
	}
	return &re
}

// httpStatusFor maps an error category to the HTTP status the server
// answers with.
func httpStatusFor(code status.Code) int {
	switch code {
	case status.NotFound:
		return http.StatusNotFound
	case status.Conflict:
		return http.StatusConflict
	case status.Aborted:
		return http.StatusGone
	case status.InvalidArgument, status.MalformedObject, status.UnknownRef:
		return http.StatusBadRequest
	case status.HistoryTooShallow:
		return http.StatusUnprocessableEntity
	case status.ConnectionError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// codeForHTTPStatus categorizes a failed response that carried no
// RemoteError body.
func codeForHTTPStatus(httpStatus int) status.Code {
	switch {
	case httpStatus == http.StatusNotFound:
		return status.NotFound
	case httpStatus == http.StatusConflict:
		return status.Conflict
	case httpStatus == http.StatusGone:
		return status.Aborted
	case httpStatus == http.StatusBadRequest:
		return status.InvalidArgument
	case httpStatus == http.StatusUnauthorized, httpStatus == http.StatusForbidden:
		return status.ConnectionError
	case httpStatus >= 500:
		return status.ConnectionError
	}
	return status.Internal
}

type idsRequest struct {
	IDs []object.ID `json:"ids"`
}

type existsResponse struct {
	Exists []bool `json:"exists"`
}

type transactionMessage struct {
	Transaction string `json:"transaction"`
}

type endPushRequest struct {
	Transaction string    `json:"transaction"`
	Ref         string    `json:"ref"`
	Expected    object.ID `json:"expected"`
	New         object.ID `json:"new"`
}

type refResponse struct {
	Ref string    `json:"ref"`
	ID  object.ID `json:"id"`
}

type stagedResponse struct {
	Staged int `json:"staged"`
}

type depthResponse struct {
	Depth int `json:"depth"`
}

type parentsResponse struct {
	Parents []object.ID `json:"parents"`
}

type deleteRefRequest struct {
	Ref string `json:"ref"`
}
