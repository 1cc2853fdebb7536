package avr

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// HTTP endpoints exposed by the receiver's web server.
const (
	commandPath = "/goform/formiPhoneAppDirect.xml"
	statusPath  = "/goform/formMainZone_MainZoneXmlStatusLite.xml"
	artworkPath = "/NetAudio/art.asp-jpg"

	// maxBodySize bounds response bodies read from the receiver.
	maxBodySize = 64 * 1024
)

// networkSources report artwork through the receiver's web server.
var networkSources = []string{
	"NET", "PANDORA", "SIRIUSXM", "SPOTIFY", "LASTFM", "FLICKR", "IRADIO",
	"SERVER", "FAVORITES", "BT", "USB/IPOD", "USB", "IPD", "IRP", "FVP",
}

// RequestConfig configures a RequestClient.
type RequestConfig struct {
	Host string
	Port int

	// Timeout bounds each request. Default: 2 seconds.
	Timeout time.Duration

	// HTTPClient overrides the client used for requests.
	HTTPClient *http.Client
}

// RequestClient issues commands as individual HTTP requests. Connect
// verifies reachability with a status request; Lost is signalled when a
// request fails at the network level.
type RequestClient struct {
	cfg     RequestConfig
	baseURL string
	client  *http.Client
	logger  Logger

	mu   sync.Mutex
	lost *closeOnce

	done *closeOnce

	requests    atomic.Uint64
	errorsTotal atomic.Uint64
}

var (
	_ Transport = (*RequestClient)(nil)
	_ Poller    = (*RequestClient)(nil)
)

// NewRequestClient creates a request/response client.
func NewRequestClient(cfg RequestConfig, logger Logger) *RequestClient {
	if cfg.Port == 0 {
		cfg.Port = DefaultHTTPPort
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultRequestTimeout
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		}
	}
	if logger == nil {
		logger = noopLogger{}
	}
	return &RequestClient{
		cfg:     cfg,
		baseURL: "http://" + net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		client:  client,
		logger:  logger,
		done:    newCloseOnce(),
	}
}

// Name implements Transport.
func (c *RequestClient) Name() string { return TransportHTTP }

// Connect performs a status request to confirm the receiver answers.
func (c *RequestClient) Connect(ctx context.Context) error {
	if c.done.IsClosed() {
		return ErrSessionClosed
	}
	if _, err := c.get(ctx, statusPath); err != nil {
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	c.mu.Lock()
	c.lost = newCloseOnce()
	c.mu.Unlock()
	return nil
}

// Lost implements Transport.
func (c *RequestClient) Lost() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lost == nil {
		return closedChan
	}
	return c.lost.Done()
}

func (c *RequestClient) markLost() {
	c.mu.Lock()
	if c.lost != nil {
		c.lost.Close()
	}
	c.mu.Unlock()
}

// Send issues a command request and discards the reply.
func (c *RequestClient) Send(ctx context.Context, raw string) error {
	_, err := c.get(ctx, commandPath+"?"+escapeCommand(raw))
	return err
}

// Query issues a command request and returns the reply lines that start
// with prefix.
func (c *RequestClient) Query(ctx context.Context, raw, prefix string) ([]string, error) {
	body, err := c.get(ctx, commandPath+"?"+escapeCommand(raw))
	if err != nil {
		return nil, err
	}
	var lines []string
	for _, line := range splitLines(body) {
		if strings.HasPrefix(line, prefix) {
			lines = append(lines, line)
			if len(lines) == maxReplyLines {
				break
			}
		}
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%w: no %q line in reply to %q", ErrProtocolError, prefix, raw)
	}
	return lines, nil
}

// statusXML mirrors the fields of the main zone status document.
type statusXML struct {
	XMLName     xml.Name `xml:"item"`
	Power       string   `xml:"Power>value"`
	ZonePower   string   `xml:"ZonePower>value"`
	Input       string   `xml:"InputFuncSelect>value"`
	MasterVol   string   `xml:"MasterVolume>value"`
	Mute        string   `xml:"Mute>value"`
	SurrMode    string   `xml:"selectSurround>value"`
	VolumeLimit string   `xml:"VolumeLimit>value"`
}

// Poll fetches the main zone status document. A failed poll signals loss.
func (c *RequestClient) Poll(ctx context.Context) ([]Update, error) {
	body, err := c.get(ctx, statusPath)
	if err != nil {
		c.markLost()
		return nil, err
	}
	var doc statusXML
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: status document: %w", ErrProtocolError, err)
	}
	return c.statusUpdates(doc), nil
}

func (c *RequestClient) statusUpdates(doc statusXML) []Update {
	var updates []Update

	switch strings.ToUpper(doc.ZonePower) {
	case "ON":
		updates = append(updates, Update{Kind: UpdatePower, Power: PowerOn})
	case "OFF":
		power := PowerOff
		if strings.EqualFold(doc.Power, "STANDBY") {
			power = PowerStandby
		}
		updates = append(updates, Update{Kind: UpdatePower, Power: power})
	}

	if db, err := strconv.ParseFloat(strings.TrimSpace(doc.MasterVol), 64); err == nil {
		updates = append(updates, Update{Kind: UpdateVolume, Number: db + ReferenceVolume})
	} else if strings.TrimSpace(doc.MasterVol) == "--" {
		updates = append(updates, Update{Kind: UpdateVolume, Number: 0})
	}

	if db, err := strconv.ParseFloat(strings.TrimSpace(doc.VolumeLimit), 64); err == nil {
		updates = append(updates, Update{Kind: UpdateMaxVolume, Number: db + ReferenceVolume})
	}

	switch strings.ToLower(doc.Mute) {
	case "on", "off":
		updates = append(updates, Update{Kind: UpdateMute, Flag: strings.EqualFold(doc.Mute, "on")})
	}

	if input := strings.TrimSpace(doc.Input); input != "" {
		updates = append(updates, Update{Kind: UpdateInput, Text: input})
		art := ""
		if slices.Contains(networkSources, strings.ToUpper(input)) {
			art = c.baseURL + artworkPath
		}
		updates = append(updates, Update{Kind: UpdateImageURL, Text: art})
	}

	if mode := strings.TrimSpace(doc.SurrMode); mode != "" {
		updates = append(updates, Update{Kind: UpdateSoundMode, Text: mode})
	}
	return updates
}

func (c *RequestClient) get(ctx context.Context, path string) ([]byte, error) {
	if c.done.IsClosed() {
		return nil, ErrSessionClosed
	}

	ctx, cancel := withDefaultTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrProtocolError, err)
	}

	c.requests.Add(1)
	resp, err := c.client.Do(req)
	if err != nil {
		c.errorsTotal.Add(1)
		err = classifyError("GET "+path, err)
		if !isTimeout(err) {
			c.markLost()
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		c.errorsTotal.Add(1)
		return nil, classifyError("read body", err)
	}
	if resp.StatusCode != http.StatusOK {
		c.errorsTotal.Add(1)
		return nil, fmt.Errorf("%w: GET %s: status %d", ErrProtocolError, path, resp.StatusCode)
	}
	return body, nil
}

// Close stops the client. Calling Close more than once is a no-op.
func (c *RequestClient) Close() error {
	c.done.Close()
	c.markLost()
	c.client.CloseIdleConnections()
	return nil
}

// commandEscaper encodes a raw command for the query string. The receiver
// matches '?' and '/' literally, so only space and '+' are encoded.
var commandEscaper = strings.NewReplacer(" ", "%20", "+", "%2B")

func escapeCommand(raw string) string {
	return commandEscaper.Replace(raw)
}
