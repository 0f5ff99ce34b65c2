// Copyright 2025 The Outline Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package report collects and sends handshake observation reports.
//
// A [HandshakeReport] describes the outcome of one request issued through a
// TLS-aware client: which key-exchange group and cipher suite the handshake
// negotiated, what the client offered, and how long the request took.
// Implementations of the [Collector] interface deliver reports to a local
// writer or a remote collector endpoint, with optional retry and sampling.
package report

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/Jigsaw-Code/pqctrace/tlsaware"
)

// Report is an alias for any type of report.
type Report any

// HasSuccess is implemented by reports that can tell success from failure,
// which lets a [SamplingCollector] sample the two populations differently.
type HasSuccess interface {
	IsSuccess() bool
}

// HandshakeReport describes the transport security parameters observed for
// one request.
type HandshakeReport struct {
	URL  string    `json:"url"`
	Time time.Time `json:"time"`
	// DurationMs is the wall time of the whole request, in milliseconds.
	DurationMs int64  `json:"durationMs"`
	StatusCode int    `json:"statusCode,omitempty"`
	Group      string `json:"group,omitempty"`
	Cipher     string `json:"cipher,omitempty"`
	// OfferedGroups lists the key-exchange groups from the ClientHello.
	OfferedGroups []string `json:"offeredGroups,omitempty"`
	Resumed       bool     `json:"resumed,omitempty"`
	// NewConnection is false when the request rode a pooled connection, in
	// which case the negotiation fields are legitimately absent.
	NewConnection bool   `json:"newConnection"`
	Error         string `json:"error,omitempty"`
}

var _ HasSuccess = HandshakeReport{}

// IsSuccess implements the [HasSuccess] interface.
func (r HandshakeReport) IsSuccess() bool {
	return r.Error == ""
}

// New builds a [HandshakeReport] from the outcome of one request. Either
// resp or err may be nil.
func New(url string, resp *tlsaware.Response, duration time.Duration, err error) HandshakeReport {
	r := HandshakeReport{
		URL:        url,
		Time:       time.Now().UTC().Truncate(time.Second),
		DurationMs: duration.Milliseconds(),
	}
	if err != nil {
		r.Error = err.Error()
		return r
	}
	if resp != nil {
		r.StatusCode = resp.Response.StatusCode
		r.Group = resp.Group
		r.Cipher = resp.Cipher
		r.OfferedGroups = resp.OfferedGroups
		r.Resumed = resp.Resumed
		r.NewConnection = resp.NewConnection
	}
	return r
}

// Collector collects a report in a given context.
type Collector interface {
	Collect(context.Context, Report) error
}

// BadRequestError indicates the collector endpoint rejected the report;
// retrying will not help.
type BadRequestError struct {
	Err error
}

func (e BadRequestError) Error() string {
	return e.Err.Error()
}

func (e BadRequestError) Unwrap() error {
	return e.Err
}

// RemoteCollector sends reports to a remote endpoint as JSON.
type RemoteCollector struct {
	HTTPClient   *http.Client
	CollectorURL *url.URL
}

// Collect marshals the report and POSTs it to the collector endpoint.
func (c *RemoteCollector) Collect(ctx context.Context, report Report) error {
	jsonData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.sendReport(ctx, jsonData)
}

func (c *RemoteCollector) sendReport(ctx context.Context, jsonData []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.CollectorURL.String(), bytes.NewReader(jsonData))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return err
	}
	if 400 <= resp.StatusCode && resp.StatusCode < 500 {
		return &BadRequestError{Err: fmt.Errorf("request failed with status code %d", resp.StatusCode)}
	}
	return nil
}

// WriteCollector writes each report to an [io.Writer] as a JSON line.
type WriteCollector struct {
	Writer io.Writer
}

// Collect writes the report to the underlying writer.
func (c *WriteCollector) Collect(ctx context.Context, report Report) error {
	jsonData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if _, err := c.Writer.Write(append(jsonData, '\n')); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// RetryCollector retries the underlying collector with exponential backoff.
// A [BadRequestError] aborts the retry loop immediately.
type RetryCollector struct {
	Collector    Collector
	MaxRetry     int
	InitialDelay time.Duration
}

// Collect collects the report, retrying on transient failures.
func (c *RetryCollector) Collect(ctx context.Context, report Report) error {
	var badRequest *BadRequestError
	for i := 0; i < c.MaxRetry+1; i++ {
		err := c.Collector.Collect(ctx, report)
		if err == nil {
			return nil
		}
		if errors.As(err, &badRequest) {
			break
		}
		time.Sleep(time.Duration(math.Pow(2, float64(i))) * c.InitialDelay)
	}
	return errors.New("max retry exceeded")
}

// SamplingCollector forwards a random sample of reports, with separate
// sampling rates for successful and failed ones. A rate of 1.0 always
// forwards and 0.0 never does.
type SamplingCollector struct {
	Collector       Collector
	SuccessFraction float64
	FailureFraction float64
}

// Collect samples the report and forwards it to the underlying collector if
// it was selected. Reports that do not implement [HasSuccess] are dropped.
func (c *SamplingCollector) Collect(ctx context.Context, report Report) error {
	hs, ok := report.(HasSuccess)
	if !ok {
		return nil
	}
	var samplingRate float64
	if hs.IsSuccess() {
		samplingRate = c.SuccessFraction
	} else {
		samplingRate = c.FailureFraction
	}
	if rand.Float64() < samplingRate {
		return c.Collector.Collect(ctx, report)
	}
	return nil
}

// FallbackCollector tries a list of collectors in order until one succeeds.
type FallbackCollector struct {
	Collectors []Collector
}

// Collect forwards the report to the first collector that accepts it.
func (c *FallbackCollector) Collect(ctx context.Context, report Report) error {
	for i := range c.Collectors {
		if err := c.Collectors[i].Collect(ctx, report); err == nil {
			return nil
		}
	}
	return errors.New("all collectors failed")
}
