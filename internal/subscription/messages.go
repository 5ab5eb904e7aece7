package subscription

import (
	"encoding/json"
	"errors"
	"fmt"

	"cryptoRide/internal/model"
)

const (
	jsonRPCVersion = "2.0"
	// requestID is used for every request; replies are paired by stream position.
	requestID = 1

	methodSubscribe    = "eth_subscribe"
	methodUnsubscribe  = "eth_unsubscribe"
	methodSubscription = "eth_subscription"
)

// ErrParse is wrapped by every frame classification failure.
var ErrParse = errors.New("parse frame")

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type logsFilter struct {
	Address string `json:"address"`
}

// jsonRPCResponse covers every inbound shape; fields are checked per state.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int            `json:"id,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *jsonRPCError) Error() string {
	return fmt.Sprintf("RPC error %d: %s", e.Code, e.Message)
}

// SubscriptionAck is the reply to eth_subscribe.
type SubscriptionAck struct {
	ProtocolVersion string
	SubscriptionID  string
	RequestID       int
}

// UnsubscribeAck is the reply to eth_unsubscribe.
type UnsubscribeAck struct {
	ProtocolVersion string
	Success         bool
	RequestID       int
}

// EventNotification is an eth_subscription push.
type EventNotification struct {
	ProtocolVersion string
	Method          string
	SubscriptionID  string
	Result          model.LogEntry
}

type notificationParams struct {
	Subscription string          `json:"subscription"`
	Result       json.RawMessage `json:"result"`
}

func subscribeRequest(address string) ([]byte, error) {
	return json.Marshal(jsonRPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      requestID,
		Method:  methodSubscribe,
		Params:  []interface{}{"logs", logsFilter{Address: address}},
	})
}

func unsubscribeRequest(subscriptionID string) ([]byte, error) {
	return json.Marshal(jsonRPCRequest{
		JSONRPC: jsonRPCVersion,
		ID:      requestID,
		Method:  methodUnsubscribe,
		Params:  []interface{}{subscriptionID},
	})
}

func parseResponse(text string) (jsonRPCResponse, error) {
	var resp jsonRPCResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return jsonRPCResponse{}, fmt.Errorf("%w: %v", ErrParse, err)
	}
	if resp.JSONRPC != jsonRPCVersion {
		return jsonRPCResponse{}, fmt.Errorf("%w: unexpected jsonrpc version %q", ErrParse, resp.JSONRPC)
	}
	if resp.Error != nil {
		return jsonRPCResponse{}, fmt.Errorf("%w: %w", ErrParse, resp.Error)
	}
	return resp, nil
}

// ParseSubscriptionAck accepts {"jsonrpc":"2.0","id":N,"result":"<id>"}.
func ParseSubscriptionAck(text string) (SubscriptionAck, error) {
	resp, err := parseResponse(text)
	if err != nil {
		return SubscriptionAck{}, err
	}
	if resp.ID == nil || resp.Method != "" {
		return SubscriptionAck{}, fmt.Errorf("%w: not a reply", ErrParse)
	}
	var id string
	if err := json.Unmarshal(resp.Result, &id); err != nil {
		return SubscriptionAck{}, fmt.Errorf("%w: subscription id: %v", ErrParse, err)
	}
	if id == "" {
		return SubscriptionAck{}, fmt.Errorf("%w: empty subscription id", ErrParse)
	}
	return SubscriptionAck{
		ProtocolVersion: resp.JSONRPC,
		SubscriptionID:  id,
		RequestID:       *resp.ID,
	}, nil
}

// ParseUnsubscribeAck accepts {"jsonrpc":"2.0","id":N,"result":true|false}.
func ParseUnsubscribeAck(text string) (UnsubscribeAck, error) {
	resp, err := parseResponse(text)
	if err != nil {
		return UnsubscribeAck{}, err
	}
	if resp.ID == nil || resp.Method != "" {
		return UnsubscribeAck{}, fmt.Errorf("%w: not a reply", ErrParse)
	}
	var success bool
	if err := json.Unmarshal(resp.Result, &success); err != nil {
		return UnsubscribeAck{}, fmt.Errorf("%w: unsubscribe result: %v", ErrParse, err)
	}
	return UnsubscribeAck{
		ProtocolVersion: resp.JSONRPC,
		Success:         success,
		RequestID:       *resp.ID,
	}, nil
}

// ParseEventNotification accepts an eth_subscription push carrying a log
// with at least one topic.
func ParseEventNotification(text string) (EventNotification, error) {
	resp, err := parseResponse(text)
	if err != nil {
		return EventNotification{}, err
	}
	if resp.Method != methodSubscription {
		return EventNotification{}, fmt.Errorf("%w: unexpected method %q", ErrParse, resp.Method)
	}

	var params notificationParams
	if err := json.Unmarshal(resp.Params, &params); err != nil {
		return EventNotification{}, fmt.Errorf("%w: params: %v", ErrParse, err)
	}
	if params.Subscription == "" {
		return EventNotification{}, fmt.Errorf("%w: missing subscription id", ErrParse)
	}

	var entry model.LogEntry
	if err := json.Unmarshal(params.Result, &entry); err != nil {
		return EventNotification{}, fmt.Errorf("%w: log: %v", ErrParse, err)
	}
	if len(entry.Topics) == 0 {
		return EventNotification{}, fmt.Errorf("%w: log has no topics", ErrParse)
	}

	return EventNotification{
		ProtocolVersion: resp.JSONRPC,
		Method:          resp.Method,
		SubscriptionID:  params.Subscription,
		Result:          entry,
	}, nil
}
