package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strings"
	"time"
)

var ErrModelServer = errors.New("model server error")

// Client calls a model server exposing /predict/classification and
// /predict/regression. It satisfies both Classifier and Regressor.
type Client struct {
	http     *http.Client
	base     string
	features []string
}

func NewClient(endpoint string, timeout time.Duration, featureOrder []string) *Client {
	return &Client{
		http:     defaultHTTPClient(timeout),
		base:     strings.TrimRight(endpoint, "/"),
		features: featureOrder,
	}
}

func (c *Client) FeatureOrder() []string { return c.features }

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Status          string          `json:"status"`
	Message         string          `json:"message"`
	Prediction      json.RawMessage `json:"prediction"`
	Confidence      *float64        `json:"confidence"`
	RiskScore       *float64        `json:"risk_score"`
	BasePredictions json.RawMessage `json:"base_predictions"`
}

// Classify sends one feature vector. The server may answer with a class
// label ("High") or an ordinal.
func (c *Client) Classify(ctx context.Context, features []float64) (Classification, error) {
	resp, err := c.predict(ctx, "/predict/classification", features)
	if err != nil {
		return Classification{}, err
	}

	class, err := parseClass(resp.Prediction)
	if err != nil {
		return Classification{}, err
	}
	conf := 0.0
	if resp.Confidence != nil {
		conf = *resp.Confidence
	}
	return Classification{Class: class, Confidence: conf}, nil
}

// Regress flattens the window row-major into one feature vector.
func (c *Client) Regress(ctx context.Context, window [][]float64) (Regression, error) {
	var flat []float64
	for _, row := range window {
		flat = append(flat, row...)
	}

	resp, err := c.predict(ctx, "/predict/regression", flat)
	if err != nil {
		return Regression{}, err
	}
	if resp.RiskScore == nil {
		return Regression{}, fmt.Errorf("%w: response has no risk_score", ErrModelServer)
	}

	base, err := parseBasePredictions(resp.BasePredictions)
	if err != nil {
		return Regression{}, err
	}
	return Regression{RiskScore: *resp.RiskScore, BasePredictions: base}, nil
}

// Ping checks that the server answers at its root.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s", ErrModelServer, resp.Status)
	}
	return nil
}

func (c *Client) predict(ctx context.Context, path string, features []float64) (*predictResponse, error) {
	// JSON has no NaN; missing readings go to the model as zero
	clean := make([]float64, len(features))
	for i, f := range features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			continue
		}
		clean[i] = f
	}

	body, err := json.Marshal(predictRequest{Features: clean})
	if err != nil {
		return nil, fmt.Errorf("encoding features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelServer, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s", ErrModelServer, resp.Status)
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding model response: %w", err)
	}
	if out.Status == "error" {
		return nil, fmt.Errorf("%w: %s", ErrModelServer, out.Message)
	}
	return &out, nil
}

func parseClass(raw json.RawMessage) (int, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, fmt.Errorf("%w: response has no prediction", ErrModelServer)
	}

	var label string
	if err := json.Unmarshal(raw, &label); err == nil {
		class, ok := ClassFromLabel(label)
		if !ok {
			return 0, fmt.Errorf("%w: unknown class label %q", ErrModelServer, label)
		}
		return class, nil
	}

	var class int
	if err := json.Unmarshal(raw, &class); err != nil {
		return 0, fmt.Errorf("%w: prediction %s is neither a label nor an ordinal", ErrModelServer, raw)
	}
	return class, nil
}

// parseBasePredictions accepts either a list or the {"xgb","rf","dt"}
// object the stacked model server returns.
func parseBasePredictions(raw json.RawMessage) ([]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return []float64{}, nil
	}

	var list []float64
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}

	var named map[string]float64
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf("%w: malformed base_predictions", ErrModelServer)
	}
	out := make([]float64, 0, len(named))
	for _, k := range []string{"xgb", "rf", "dt"} {
		if v, ok := named[k]; ok {
			out = append(out, v)
		}
	}
	return out, nil
}
