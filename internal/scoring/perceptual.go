package scoring

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Perceptual scores a predicted frame against its reference with a learned
// perceptual distance such as LPIPS. Lower is better.
type Perceptual interface {
	Distance(ctx context.Context, prediction, reference []byte) (float64, error)
}

// HTTPPerceptual posts frame pairs to an LPIPS sidecar service which answers
// {"distance": <float>}.
type HTTPPerceptual struct {
	URL     string
	Client  *http.Client
	Limiter *rate.Limiter
}

func NewHTTPPerceptual(url string, requestsPerSecond float64) *HTTPPerceptual {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 20
	}
	return &HTTPPerceptual{
		URL:     url,
		Client:  &http.Client{Timeout: 2 * time.Minute},
		Limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1),
	}
}

type perceptualResponse struct {
	Distance *float64 `json:"distance"`
	Error    string   `json:"error"`
}

func (p *HTTPPerceptual) Distance(ctx context.Context, prediction, reference []byte) (float64, error) {
	if p.Limiter != nil {
		if err := p.Limiter.Wait(ctx); err != nil {
			return 0, eris.Wrap(err, "lpips: rate limit")
		}
	}
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, part := range []struct {
		field string
		data  []byte
	}{{"prediction", prediction}, {"reference", reference}} {
		fw, err := writer.CreateFormFile(part.field, part.field+".png")
		if err != nil {
			return 0, eris.Wrap(err, "lpips: build request")
		}
		if _, err := fw.Write(part.data); err != nil {
			return 0, eris.Wrap(err, "lpips: build request")
		}
	}
	if err := writer.Close(); err != nil {
		return 0, eris.Wrap(err, "lpips: build request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.URL, body)
	if err != nil {
		return 0, eris.Wrap(err, "lpips: new request")
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, eris.Wrap(err, "lpips: request")
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, eris.Wrap(err, "lpips: read response")
	}
	var payload perceptualResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return 0, eris.Wrapf(err, "lpips: decode response (status %d)", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, eris.Errorf("lpips: status %d: %s", resp.StatusCode, payload.Error)
	}
	if payload.Distance == nil {
		return 0, eris.New("lpips: response without distance")
	}
	return *payload.Distance, nil
}
