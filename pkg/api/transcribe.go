package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/artasov/winky-cli/pkg/werrors"
)

// transcriptionResponse is the backend's speech-to-text reply.
type transcriptionResponse struct {
	Text string `json:"text"`
}

// Transcribe uploads an audio clip and returns the recognized text.
// Hosted transcription bills credits, so credit and auth failures come
// back with their own codes.
func (c *Client) Transcribe(ctx context.Context, audio []byte, filename, model string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "rate limit wait")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build upload")
	}
	if _, err := part.Write(audio); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build upload")
	}
	if model != "" {
		if err := mw.WriteField("model", model); err != nil {
			return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build upload")
		}
	}
	if err := mw.Close(); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build upload")
	}

	p := "winky/transcriptions/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(p, nil), &buf)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "build request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if tok := c.bearer(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIRequest, "request failed").
			WithContext("path", p).
			WithRetryable(true).
			WithUserMessage("Couldn't reach the server. Check your connection.")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", statusError(resp, p)
	}

	var out transcriptionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", werrors.Wrap(err, werrors.ErrCodeAPIResponse, "decode response").
			WithContext("path", p)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))
	return out.Text, nil
}
