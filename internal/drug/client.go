package drug

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/prescription-ai-platform/pkg/logging"
)

const (
	defaultTimeout   = 10 * time.Second
	defaultThreshold = 0.8
	defaultRows      = 10
	resultCodeOK     = "00"
)

// Config controls how the lookup client reaches the catalogs.
type Config struct {
	ServiceKey string
	// GeneralURL is the OTC catalog (e-drug easy info list).
	GeneralURL string
	// PrescriptionURL is the product-permit catalog used for prescription-only drugs.
	PrescriptionURL string
	Timeout         time.Duration
	// MatchThreshold is the minimum similarity ratio for a fuzzy match.
	MatchThreshold float64
	HTTPClient     *http.Client
	Logger         *logging.Logger
}

// Client queries both catalogs in order. It holds no per-request state.
type Client struct {
	serviceKey string
	endpoints  []endpoint
	threshold  float64
	httpClient *http.Client
	logger     *logging.Logger
}

type endpoint struct {
	name      string
	url       string
	nameParam string
	decode    func(json.RawMessage) ([]Info, error)
}

// New creates a configured Client with sane defaults.
func New(cfg Config) (*Client, error) {
	generalURL := strings.TrimSpace(cfg.GeneralURL)
	prescriptionURL := strings.TrimSpace(cfg.PrescriptionURL)
	if generalURL == "" || prescriptionURL == "" {
		return nil, errors.New("drug: both catalog URLs are required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	threshold := cfg.MatchThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = defaultThreshold
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Client{
		serviceKey: cfg.ServiceKey,
		endpoints: []endpoint{
			{name: string(CategoryGeneral), url: generalURL, nameParam: "itemName", decode: decodeGeneral},
			{name: string(CategoryPrescription), url: prescriptionURL, nameParam: "item_name", decode: decodePrescription},
		},
		threshold:  threshold,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// Lookup resolves name against the general catalog, falling back to the
// prescription catalog when the first yields no match or fails. ErrNotFound
// is returned only when both catalogs answered without a match; otherwise the
// first upstream failure is returned.
func (c *Client) Lookup(ctx context.Context, name string) (*Info, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: empty drug name", ErrNotFound)
	}

	var firstErr error
	for _, ep := range c.endpoints {
		info, err := c.search(ctx, ep, name)
		if err == nil {
			return info, nil
		}
		if errors.Is(err, ErrNotFound) {
			continue
		}
		c.logger.Warn("drug catalog lookup failed", "endpoint", ep.name, "drug", name, "error", err)
		if firstErr == nil {
			firstErr = err
		}
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return nil, ErrNotFound
}

func (c *Client) search(ctx context.Context, ep endpoint, name string) (*Info, error) {
	q := url.Values{}
	q.Set("serviceKey", c.serviceKey)
	q.Set(ep.nameParam, name)
	q.Set("type", "json")
	q.Set("pageNo", "1")
	q.Set("numOfRows", fmt.Sprint(defaultRows))

	data, err := c.invoke(ctx, ep, q)
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Header struct {
			ResultCode string `json:"resultCode"`
			ResultMsg  string `json:"resultMsg"`
		} `json:"header"`
		Body struct {
			Items json.RawMessage `json:"items"`
		} `json:"body"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, &UpstreamError{Endpoint: ep.name, Reason: "malformed response: " + err.Error()}
	}
	if envelope.Header.ResultCode != resultCodeOK {
		return nil, &UpstreamError{Endpoint: ep.name, Reason: fmt.Sprintf("result %s: %s", envelope.Header.ResultCode, envelope.Header.ResultMsg)}
	}

	items, err := ep.decode(envelope.Body.Items)
	if err != nil {
		return nil, &UpstreamError{Endpoint: ep.name, Reason: "malformed items: " + err.Error()}
	}
	match, ok := bestMatch(items, name, c.threshold)
	if !ok {
		return nil, ErrNotFound
	}
	return &match, nil
}

func (c *Client) invoke(ctx context.Context, ep endpoint, query url.Values) ([]byte, error) {
	fullURL := ep.url
	if strings.Contains(fullURL, "?") {
		fullURL += "&" + query.Encode()
	} else {
		fullURL += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("drug: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s endpoint", ErrTimeout, ep.name)
		}
		return nil, &UpstreamError{Endpoint: ep.name, Reason: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s endpoint", ErrTimeout, ep.name)
		}
		return nil, &UpstreamError{Endpoint: ep.name, Reason: "read response: " + err.Error()}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &UpstreamError{Endpoint: ep.name, StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// decodeItems accepts the shapes the catalogs use for body.items: a bare
// array, {"item": [...]}, {"item": {...}}, or an empty string.
func decodeItems[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) || bytes.Equal(raw, []byte(`""`)) {
		return nil, nil
	}
	switch raw[0] {
	case '[':
		var out []T
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, err
		}
		return out, nil
	case '{':
		var wrapper struct {
			Item json.RawMessage `json:"item"`
		}
		if err := json.Unmarshal(raw, &wrapper); err != nil {
			return nil, err
		}
		inner := bytes.TrimSpace(wrapper.Item)
		if len(inner) > 0 && inner[0] == '{' {
			var single T
			if err := json.Unmarshal(inner, &single); err != nil {
				return nil, err
			}
			return []T{single}, nil
		}
		return decodeItems[T](inner)
	default:
		return nil, fmt.Errorf("unexpected items payload %.20q", string(raw))
	}
}

type generalItem struct {
	ItemName    string `json:"itemName"`
	EntpName    string `json:"entpName"`
	ItemSeq     string `json:"itemSeq"`
	Efficacy    string `json:"efcyQesitm"`
	UseMethod   string `json:"useMethodQesitm"`
	Caution     string `json:"atpnQesitm"`
	SideEffects string `json:"seQesitm"`
}

func decodeGeneral(raw json.RawMessage) ([]Info, error) {
	items, err := decodeItems[generalItem](raw)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(items))
	for _, it := range items {
		out = append(out, Info{
			Name:         strings.TrimSpace(it.ItemName),
			Manufacturer: strings.TrimSpace(it.EntpName),
			Category:     CategoryGeneral,
			ItemSeq:      it.ItemSeq,
			Efficacy:     cleanText(it.Efficacy),
			Usage:        cleanText(it.UseMethod),
			Warnings:     cleanText(it.Caution),
			SideEffects:  cleanText(it.SideEffects),
		})
	}
	return out, nil
}

type prescriptionItem struct {
	ItemName    string `json:"ITEM_NAME"`
	EntpName    string `json:"ENTP_NAME"`
	ItemSeq     string `json:"ITEM_SEQ"`
	Ingredients string `json:"ITEM_INGR_NAME"`
	ClassCode   string `json:"PRDUCT_TYPE"`
	PermitDate  string `json:"ITEM_PERMIT_DATE"`
}

func decodePrescription(raw json.RawMessage) ([]Info, error) {
	items, err := decodeItems[prescriptionItem](raw)
	if err != nil {
		return nil, err
	}
	out := make([]Info, 0, len(items))
	for _, it := range items {
		out = append(out, Info{
			Name:         strings.TrimSpace(it.ItemName),
			Manufacturer: strings.TrimSpace(it.EntpName),
			Category:     CategoryPrescription,
			ItemSeq:      it.ItemSeq,
			Ingredients:  strings.TrimSpace(it.Ingredients),
			ClassCode:    strings.TrimSpace(it.ClassCode),
			PermitDate:   strings.TrimSpace(it.PermitDate),
		})
	}
	return out, nil
}

var tagReplacer = strings.NewReplacer("<p>", "", "</p>", "\n", "<br>", "\n", "<br/>", "\n", "<sub>", "", "</sub>", "", "<sup>", "", "</sup>", "")

func cleanText(s string) string {
	return strings.TrimSpace(tagReplacer.Replace(s))
}
