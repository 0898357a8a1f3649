package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/webitel/change-relay/infra/client/fetch"
	"github.com/webitel/change-relay/infra/server/httpsrv"
)

// RejectedError is returned when the relay answered but refused the event.
type RejectedError struct {
	StatusCode int
	Message    string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("relay rejected broadcast (%d): %s", e.StatusCode, e.Message)
}

type IngressClient struct {
	client  *fetch.Client
	baseURL string

	// Secret signs a short-lived bearer token per call when set.
	Secret string
	Caller string
}

func NewIngressClient(client *fetch.Client, baseURL string) *IngressClient {
	return &IngressClient{
		client:  client,
		baseURL: strings.TrimRight(baseURL, "/"),
		Caller:  "relayctl",
	}
}

// Broadcast submits one change event. data must marshal to an array of objects or of strings.
func (c *IngressClient) Broadcast(ctx context.Context, kind string, data any) error {
	header := http.Header{}
	if c.Secret != "" {
		token, err := httpsrv.IssueToken(c.Secret, c.Caller, time.Minute)
		if err != nil {
			return fmt.Errorf("sign token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	body := struct {
		Kind string `json:"kind"`
		Data any    `json:"data"`
	}{Kind: kind, Data: data}

	_, err := c.client.PostJSON(ctx, c.baseURL+"/broadcast", body, header)
	if err == nil {
		return nil
	}

	var se *fetch.StatusError
	if errors.As(err, &se) && !se.Temporary() {
		var resp struct {
			Error string `json:"error"`
		}
		msg := se.Body
		if json.Unmarshal([]byte(se.Body), &resp) == nil && resp.Error != "" {
			msg = resp.Error
		}
		return &RejectedError{StatusCode: se.StatusCode, Message: msg}
	}
	return err
}
