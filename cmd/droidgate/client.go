package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/webadb/droidgate/internal/runtimeconfig"
)

// daemonClient is the thin HTTP surface to a locally running droidgated.
type daemonClient struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func newDaemonClient() (*daemonClient, error) {
	fileConfig, configError := runtimeconfig.Load("")
	if configError != nil {
		return nil, configError
	}
	address := runtimeconfig.ResolveString("DROIDGATE_DAEMON_ADDR", fileConfig.Values)
	if address == "" {
		address = "127.0.0.1:8722"
	}
	token := strings.TrimSpace(fileConfig.Values[runtimeconfig.TokenKey])
	return &daemonClient{
		baseURL: "http://" + address,
		token:   token,
		// Installs download and push whole packages; give them room.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
	}, nil
}

// call sends one JSON request and decodes the JSON response. It returns
// the HTTP status code so callers can branch on daemon-level refusals
// (needs_confirmation, no device attached) without treating them as
// transport failures.
func (client *daemonClient) call(ctx context.Context, method string, path string, payload any) (int, map[string]any, error) {
	var body *bytes.Reader
	if payload != nil {
		encoded, marshalError := json.Marshal(payload)
		if marshalError != nil {
			return 0, nil, marshalError
		}
		body = bytes.NewReader(encoded)
	} else {
		body = bytes.NewReader(nil)
	}

	request, requestError := http.NewRequestWithContext(ctx, method, client.baseURL+path, body)
	if requestError != nil {
		return 0, nil, requestError
	}
	request.Header.Set("Content-Type", "application/json")
	if client.token != "" {
		request.Header.Set("X-Droidgate-Token", client.token)
	}

	response, doError := client.httpClient.Do(request)
	if doError != nil {
		return 0, nil, fmt.Errorf("droidgated unreachable at %s: %w", client.baseURL, doError)
	}
	defer response.Body.Close()

	decoded := map[string]any{}
	if decodeError := json.NewDecoder(response.Body).Decode(&decoded); decodeError != nil {
		return response.StatusCode, nil, fmt.Errorf("decode daemon response: %w", decodeError)
	}
	return response.StatusCode, decoded, nil
}

func responseError(decoded map[string]any, statusCode int) error {
	if message, isString := decoded["error"].(string); isString && message != "" {
		return fmt.Errorf("%s", message)
	}
	return fmt.Errorf("daemon returned status %d", statusCode)
}
