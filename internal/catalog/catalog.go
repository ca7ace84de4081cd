// Package catalog enriches package records with human-readable labels
// from third-party app catalogs. Lookups are best-effort and strictly
// isolated from the device channel: a slow or failing catalog can never
// contend with an in-flight command.
package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

const (
	defaultConcurrency  = 2
	defaultRequestDelay = 150 * time.Millisecond
)

type Client struct {
	httpClient   *http.Client
	endpoint     string
	concurrency  int
	requestDelay time.Duration
}

type Option func(*Client)

func WithConcurrency(width int) Option {
	return func(client *Client) {
		if width > 0 && width <= 3 {
			client.concurrency = width
		}
	}
}

func WithRequestDelay(delay time.Duration) Option {
	return func(client *Client) { client.requestDelay = delay }
}

// NewClient targets one catalog endpoint; the package name is appended to
// the endpoint URL.
func NewClient(endpoint string, options ...Option) *Client {
	client := &Client{
		httpClient:   &http.Client{Timeout: 10 * time.Second},
		endpoint:     endpoint,
		concurrency:  defaultConcurrency,
		requestDelay: defaultRequestDelay,
	}
	for _, option := range options {
		option(client)
	}
	return client
}

type catalogResponse struct {
	Label string `json:"label"`
	Name  string `json:"name"`
}

// Labels resolves labels for the given package names with a small bounded
// worker pool and an inter-request delay. Failed lookups are simply
// absent from the result.
func (client *Client) Labels(ctx context.Context, packageNames []string) map[string]string {
	labels := make(map[string]string, len(packageNames))
	labelsMu := sync.Mutex{}

	semaphore := make(chan struct{}, client.concurrency)
	waitGroup := sync.WaitGroup{}

	for _, packageName := range packageNames {
		if ctx.Err() != nil {
			break
		}
		semaphore <- struct{}{}
		waitGroup.Add(1)
		go func(name string) {
			defer waitGroup.Done()
			defer func() {
				time.Sleep(client.requestDelay)
				<-semaphore
			}()

			label, lookupError := client.lookup(ctx, name)
			if lookupError != nil || label == "" {
				return
			}
			labelsMu.Lock()
			labels[name] = label
			labelsMu.Unlock()
		}(packageName)
	}

	waitGroup.Wait()
	return labels
}

func (client *Client) lookup(ctx context.Context, packageName string) (string, error) {
	request, requestError := http.NewRequestWithContext(ctx, http.MethodGet, client.endpoint+packageName, nil)
	if requestError != nil {
		return "", requestError
	}
	response, fetchError := client.httpClient.Do(request)
	if fetchError != nil {
		return "", fetchError
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return "", fmt.Errorf("catalog status %d", response.StatusCode)
	}
	body, readError := io.ReadAll(io.LimitReader(response.Body, 1<<16))
	if readError != nil {
		return "", readError
	}

	decoded := catalogResponse{}
	if unmarshalError := json.Unmarshal(body, &decoded); unmarshalError != nil {
		return "", unmarshalError
	}
	if decoded.Label != "" {
		return decoded.Label, nil
	}
	return decoded.Name, nil
}
