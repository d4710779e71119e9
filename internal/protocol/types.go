// Package protocol defines the request/response messages exchanged between
// the trade client and server, their JSON encoding and the length-prefixed
// framing that delimits them on a stream.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
)

type RequestType int

const (
	Ping RequestType = iota + 1
	UserExists
	GetAllUsersNames
	GetAllItems
	GetAllItemsNames
	GetItem
	ItemExists
	LogIn
	LogOut
	GetCurrentUserName
	GetCredits
	GetUserItems
	GetUserItemsNames
	UserHas
	PurchaseItem
	SellItem
)

var requestTypeNames = map[RequestType]string{
	Ping:               "PING",
	UserExists:         "USER_EXISTS",
	GetAllUsersNames:   "GET_ALL_USERS_NAMES",
	GetAllItems:        "GET_ALL_ITEMS",
	GetAllItemsNames:   "GET_ALL_ITEMS_NAMES",
	GetItem:            "GET_ITEM",
	ItemExists:         "ITEM_EXISTS",
	LogIn:              "LOG_IN",
	LogOut:             "LOG_OUT",
	GetCurrentUserName: "GET_CURRENT_USER_NAME",
	GetCredits:         "GET_CREDITS",
	GetUserItems:       "GET_USER_ITEMS",
	GetUserItemsNames:  "GET_USER_ITEMS_NAMES",
	UserHas:            "USER_HAS",
	PurchaseItem:       "PURCHASE_ITEM",
	SellItem:           "SELL_ITEM",
}

var requestTypesByName = func() map[string]RequestType {
	out := make(map[string]RequestType, len(requestTypeNames))
	for t, name := range requestTypeNames {
		out[name] = t
	}
	return out
}()

func (t RequestType) String() string {
	if name, ok := requestTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("RequestType(%d)", int(t))
}

func (t RequestType) Valid() bool {
	_, ok := requestTypeNames[t]
	return ok
}

func (t RequestType) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, errors.Wrap(ErrUnknownRequestType, t.String())
	}
	return []byte(requestTypeNames[t]), nil
}

func (t *RequestType) UnmarshalText(text []byte) error {
	v, ok := requestTypesByName[string(text)]
	if !ok {
		return errors.Wrapf(ErrUnknownRequestType, "%q", string(text))
	}
	*t = v
	return nil
}

// ArgKind describes the payload shape a request type carries.
type ArgKind int

const (
	ArgsNone ArgKind = iota
	ArgsName
	ArgsTrade
)

func (t RequestType) Args() ArgKind {
	switch t {
	case UserExists, GetItem, ItemExists, LogIn, UserHas:
		return ArgsName
	case PurchaseItem, SellItem:
		return ArgsTrade
	default:
		return ArgsNone
	}
}

type NameArgs struct {
	Name string `json:"name"`
}

type TradeArgs struct {
	Name   string `json:"name"`
	Amount int64  `json:"amount"`
}

type Request struct {
	Type    RequestType     `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func NewRequest(t RequestType) Request {
	return Request{Type: t}
}

func NameRequest(t RequestType, name string) Request {
	raw, _ := json.Marshal(NameArgs{Name: name})
	return Request{Type: t, Payload: raw}
}

func TradeRequest(t RequestType, name string, amount int64) Request {
	raw, _ := json.Marshal(TradeArgs{Name: name, Amount: amount})
	return Request{Type: t, Payload: raw}
}

// Name returns the name argument of a name-keyed or trade request.
func (r Request) Name() (string, error) {
	if len(r.Payload) == 0 {
		return "", ErrMalformedPayload
	}
	var args NameArgs
	if err := json.Unmarshal(r.Payload, &args); err != nil {
		return "", errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return args.Name, nil
}

func (r Request) Trade() (TradeArgs, error) {
	if len(r.Payload) == 0 {
		return TradeArgs{}, ErrMalformedPayload
	}
	var args TradeArgs
	if err := json.Unmarshal(r.Payload, &args); err != nil {
		return TradeArgs{}, errors.Wrap(ErrMalformedPayload, err.Error())
	}
	return args, nil
}

// Failure names a business-level rejection. It travels inside a failed
// Response and is never turned into a transport error.
type Failure string

const (
	FailureNotLoggedIn           Failure = "NotLoggedIn"
	FailureNoSuchItem            Failure = "NoSuchItem"
	FailureAlreadyLoggedIn       Failure = "AlreadyLoggedIn"
	FailureInsufficientFunds     Failure = "InsufficientFunds"
	FailureInsufficientInventory Failure = "InsufficientInventory"
	FailureInvalidAmount         Failure = "InvalidAmount"
	FailureUnsupportedRequest    Failure = "UnsupportedRequest"
	FailureInternal              Failure = "Internal"
)

type Response struct {
	Type    RequestType     `json:"type"`
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Code    Failure         `json:"code,omitempty"`
	Message string          `json:"message,omitempty"`
}

// OK builds a successful response. A nil data value leaves Data absent.
func OK(t RequestType, data interface{}) Response {
	if data == nil {
		return Response{Type: t, Success: true}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Fail(t, FailureInternal, "encode response data: "+err.Error())
	}
	return Response{Type: t, Success: true, Data: raw}
}

func Fail(t RequestType, code Failure, message string) Response {
	if message == "" {
		message = string(code)
	}
	return Response{Type: t, Success: false, Code: code, Message: message}
}

// Decode unmarshals the response data into v.
func (r Response) Decode(v interface{}) error {
	if len(r.Data) == 0 {
		return errors.Wrapf(ErrMalformedPayload, "%s response carries no data", r.Type)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return errors.Wrapf(ErrMalformedPayload, "%s response data: %v", r.Type, err)
	}
	return nil
}

// FailureError exposes a failed Response as a Go error on the client side.
type FailureError struct {
	Type    RequestType
	Code    Failure
	Message string
}

func (e *FailureError) Error() string {
	return fmt.Sprintf("%s failed: %s", e.Type, e.Message)
}

// Err returns nil for a successful response and a *FailureError otherwise.
func (r Response) Err() error {
	if r.Success {
		return nil
	}
	return &FailureError{Type: r.Type, Code: r.Code, Message: r.Message}
}

// LoginResult is the data of a successful LOG_IN response.
type LoginResult struct {
	Name    string `json:"name"`
	Bonus   int64  `json:"bonus"`
	Credits int64  `json:"credits"`
}

// TradeResult is the data of a successful PURCHASE_ITEM or SELL_ITEM
// response. Total is the number of credits moved.
type TradeResult struct {
	Item    string `json:"item"`
	Amount  int64  `json:"amount"`
	Total   int64  `json:"total"`
	Credits int64  `json:"credits"`
	Owned   int64  `json:"owned"`
}
