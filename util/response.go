package util

import (
	"errors"
	"net/http"

	libconstants "github.com/filswan/go-swan-lib/constants"
	"github.com/lagrangedao/go-computing-market/internal/models"
)

type BasicResponse struct {
	Status   string      `json:"status"`
	Code     int         `json:"code"`
	Data     interface{} `json:"data,omitempty"`
	Message  string      `json:"message,omitempty"`
	PageInfo *PageInfo   `json:"page_info,omitempty"`
}

type PageInfo struct {
	PageNumber       string `json:"page_number"`
	PageSize         string `json:"page_size"`
	TotalRecordCount string `json:"total_record_count"`
}

func CreateSuccessResponse(_data interface{}) BasicResponse {
	return BasicResponse{
		Status: libconstants.SWAN_API_STATUS_SUCCESS,
		Data:   _data,
		Code:   SuccessCode,
	}
}

func CreateErrorResponse(code int, errMsg ...string) BasicResponse {
	var msg string
	if len(errMsg) == 0 {
		msg = codeMsg[code]
	} else {
		msg = errMsg[0]
	}
	return BasicResponse{
		Status:  libconstants.SWAN_API_STATUS_FAIL,
		Code:    code,
		Message: msg,
	}
}

const (
	SuccessCode = 200
	JsonError   = 400
	ServerError = 500

	SignatureError      = 7001
	SignatureExpired    = 7002
	AddressError        = 7003
	AmountError         = 7004
	JobSpecError        = 7005
	SignatureReplayed   = 7006
	UnauthorizedError   = 8001
	InvalidTransition   = 8002
	InvalidStateError   = 8003
	InvalidArgument     = 8004
	AlreadyLockedError  = 8005
	AlreadySettledError = 8006
	AlreadyRatedError   = 8007
	InsufficientFunds   = 8008
	NotFoundError       = 8009
	NodeUnavailable     = 8010
	SettlementBusyError = 8011
)

var codeMsg = map[int]string{
	JsonError:   "An error occurred while converting to json",
	ServerError: "An internal error occurred",

	SignatureError:    "The request signature does not match the caller",
	SignatureExpired:  "The request signature is too old",
	AddressError:      "The address is not a valid hex address",
	AmountError:       "The amount is not a valid token amount",
	JobSpecError:      "The job spec could not be parsed",
	SignatureReplayed: "The signed request was already accepted",
}

var errorCodes = []struct {
	err    error
	code   int
	status int
}{
	{models.ErrUnauthorized, UnauthorizedError, http.StatusForbidden},
	{models.ErrInvalidTransition, InvalidTransition, http.StatusConflict},
	{models.ErrInvalidState, InvalidStateError, http.StatusConflict},
	{models.ErrInvalidArgument, InvalidArgument, http.StatusBadRequest},
	{models.ErrAlreadyLocked, AlreadyLockedError, http.StatusConflict},
	{models.ErrAlreadySettled, AlreadySettledError, http.StatusConflict},
	{models.ErrAlreadyRated, AlreadyRatedError, http.StatusConflict},
	{models.ErrInsufficientFunds, InsufficientFunds, http.StatusPaymentRequired},
	{models.ErrNotFound, NotFoundError, http.StatusNotFound},
	{models.ErrNodeUnavailable, NodeUnavailable, http.StatusConflict},
	{models.ErrSettlementInProgress, SettlementBusyError, http.StatusConflict},
}

// ErrorCode maps a market error to its response code and http status.
func ErrorCode(err error) (code int, status int) {
	for _, e := range errorCodes {
		if errors.Is(err, e.err) {
			return e.code, e.status
		}
	}
	return ServerError, http.StatusInternalServerError
}
