// Package install implements the batched remote-install pipeline: a
// permissive-but-bounded download path feeding the transport's chunked
// install call, with two-phase progress.
package install

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/webadb/droidgate/internal/audit"
	"github.com/webadb/droidgate/internal/interpret"
	"github.com/webadb/droidgate/internal/transport"
)

const (
	defaultMaxDownloadBytes = int64(200) << 20
	downloadChunkSize       = 64 * 1024

	// The download phase owns the first 0.4 of the progress range, the
	// device install the remaining 0.6.
	downloadPhaseShare = 0.4
)

// Ordered pass-through mirrors tried after a failed direct fetch; each
// entry is prefixed to the full target URL.
var defaultProxyPrefixes = []string{
	"https://cdn.jsdelivr.net/gh/",
	"https://mirror.ghproxy.com/",
}

type Config struct {
	Transport transport.Transport
	Audit     *audit.Log

	Client        *http.Client
	ProxyPrefixes []string
	ExtraHosts    []string
	MaxBytes      int64

	OnProgress transport.ProgressFunc
}

type Installer struct {
	config Config
}

func New(config Config) *Installer {
	if config.Client == nil {
		config.Client = &http.Client{Timeout: 120 * time.Second}
	}
	if config.ProxyPrefixes == nil {
		config.ProxyPrefixes = defaultProxyPrefixes
	}
	if config.MaxBytes <= 0 {
		config.MaxBytes = defaultMaxDownloadBytes
	}
	return &Installer{config: config}
}

// InstallFromURL downloads a package from a trusted host and hands it to
// the device's chunked install call. It returns true only when the device
// reported a successful install.
func (installer *Installer) InstallFromURL(ctx context.Context, rawURL string) (bool, error) {
	validatedURL, validationError := ValidateURL(rawURL, installer.config.ExtraHosts)
	if validationError != nil {
		return false, validationError
	}

	entry := installer.config.Audit.Begin("install " + validatedURL)

	payload, downloadError := installer.download(ctx, validatedURL)
	if downloadError != nil {
		installer.config.Audit.Resolve(entry.ID, audit.StatusError, downloadError.Error())
		return false, downloadError
	}

	result, installError := installer.config.Transport.InstallBinary(ctx, payload, func(fraction float64) {
		installer.reportProgress(downloadPhaseShare + (1-downloadPhaseShare)*fraction)
	})
	if installError != nil {
		installer.config.Audit.Resolve(entry.ID, audit.StatusError, installError.Error())
		return false, installError
	}

	verdict := interpret.ShellResult(result)
	if !verdict.OK {
		errorText := interpret.ErrorText(result)
		installer.config.Audit.Resolve(entry.ID, audit.StatusError, errorText)
		return false, fmt.Errorf("device rejected the install: %s", errorText)
	}

	message := fmt.Sprintf("installed %d bytes", len(payload))
	if verdict.Fallback {
		message += fmt.Sprintf(" (alternate method used: %s)", verdict.Outcome)
	}
	installer.config.Audit.Resolve(entry.ID, audit.StatusSuccess, message)
	return true, nil
}

// download tries the direct URL first, then each proxy prefix in order,
// stopping at the first success.
func (installer *Installer) download(ctx context.Context, validatedURL string) ([]byte, error) {
	payload, directError := installer.fetch(ctx, validatedURL)
	if directError == nil {
		return payload, nil
	}

	lastError := directError
	for _, prefix := range installer.config.ProxyPrefixes {
		payload, proxyError := installer.fetch(ctx, prefix+validatedURL)
		if proxyError == nil {
			return payload, nil
		}
		lastError = proxyError
	}
	return nil, fmt.Errorf("unreachable directly and through all proxies: %w", lastError)
}

func (installer *Installer) fetch(ctx context.Context, fetchURL string) ([]byte, error) {
	request, requestError := http.NewRequestWithContext(ctx, http.MethodGet, fetchURL, nil)
	if requestError != nil {
		return nil, requestError
	}
	response, fetchError := installer.config.Client.Do(request)
	if fetchError != nil {
		return nil, fetchError
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: status %d", fetchURL, response.StatusCode)
	}

	contentType := response.Header.Get("Content-Type")
	if strings.Contains(contentType, "text/html") {
		return nil, fmt.Errorf("got a web page (%s) instead of a binary", contentType)
	}
	if response.ContentLength > installer.config.MaxBytes {
		return nil, fmt.Errorf("declared size %d exceeds the %d byte ceiling", response.ContentLength, installer.config.MaxBytes)
	}

	return installer.readChunks(response.Body, response.ContentLength)
}

func (installer *Installer) readChunks(body io.Reader, declaredTotal int64) ([]byte, error) {
	buffer := bytes.Buffer{}
	chunk := make([]byte, downloadChunkSize)
	for {
		bytesRead, readError := body.Read(chunk)
		if bytesRead > 0 {
			buffer.Write(chunk[:bytesRead])
			if int64(buffer.Len()) > installer.config.MaxBytes {
				return nil, fmt.Errorf("download exceeded the %d byte ceiling", installer.config.MaxBytes)
			}
			if declaredTotal > 0 {
				installer.reportProgress(downloadPhaseShare * float64(buffer.Len()) / float64(declaredTotal))
			}
		}
		if readError == io.EOF {
			break
		}
		if readError != nil {
			return nil, fmt.Errorf("read download stream: %w", readError)
		}
	}
	installer.reportProgress(downloadPhaseShare)
	return buffer.Bytes(), nil
}

func (installer *Installer) reportProgress(fraction float64) {
	if installer.config.OnProgress != nil {
		installer.config.OnProgress(fraction)
	}
}
