package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// ErrHeaderTimeout is returned when a stream does not answer with response
// headers within the client timeout.
var ErrHeaderTimeout = errors.New("timed out waiting for stream headers")

// openStream sends a long-lived request. The client timeout bounds only the
// wait for response headers. The returned release func must be called once
// the body is no longer read.
func (c *Client) openStream(ctx context.Context, req *http.Request) (*http.Response, func(), error) {
	ctx, cancel := context.WithCancelCause(ctx)
	release := func() { cancel(nil) }

	var timer *time.Timer
	if c.timeout > 0 {
		timer = time.AfterFunc(c.timeout, func() { cancel(ErrHeaderTimeout) })
	}
	resp, err := c.httpClient.Do(req.WithContext(ctx)) //nolint:gosec // URL constructed from validated parsedURL via resolveURL
	if timer != nil && !timer.Stop() && err == nil {
		resp.Body.Close()
		err = ErrHeaderTimeout
	}
	if err != nil {
		if cause := context.Cause(ctx); errors.Is(cause, ErrHeaderTimeout) {
			err = cause
		}
		release()
		return nil, nil, err
	}
	return resp, release, nil
}

type streamBody struct {
	io.ReadCloser
	release func()
}

func (b streamBody) Close() error {
	err := b.ReadCloser.Close()
	b.release()
	return err
}

// OpenRecognitionStream opens the server-sent recognition event feed. The
// caller owns the returned body and must close it. The stream has no
// read timeout; the client timeout only bounds the wait for headers.
// Cancel ctx to abort it.
func (c *Client) OpenRecognitionStream(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.resolveURL("recognition/stream"), nil)
	if err != nil {
		return nil, fmt.Errorf("could not create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, release, err := c.openStream(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("open recognition stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer release()
		defer resp.Body.Close()
		return nil, fmt.Errorf("open recognition stream: %w", newStatusError(resp))
	}
	return streamBody{ReadCloser: resp.Body, release: release}, nil
}

// StreamFrames reads the MJPEG camera stream opened with the given
// version token and calls fn with every JPEG frame until ctx is cancelled,
// the stream ends or fn returns an error. A clean end of stream returns
// io.EOF. Frames larger than the frame size limit are dropped.
func (c *Client) StreamFrames(ctx context.Context, version int64, fn func(frame []byte) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.StreamURL(version), nil)
	if err != nil {
		return fmt.Errorf("could not create request: %w", err)
	}

	resp, release, err := c.openStream(ctx, req)
	if err != nil {
		return fmt.Errorf("open camera stream: %w", err)
	}
	defer release()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("open camera stream: %w", newStatusError(resp))
	}

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("camera stream content type: %w", err)
	}
	if !strings.HasPrefix(mediaType, "multipart/") || params["boundary"] == "" {
		return fmt.Errorf("camera stream: unexpected content type %q", mediaType)
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	for {
		part, err := reader.NextPart()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return io.EOF
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("camera stream: %w", err)
		}

		frame, err := io.ReadAll(io.LimitReader(part, c.maxFrameSize+1))
		_ = part.Close()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("camera stream frame: %w", err)
		}
		if len(frame) == 0 || int64(len(frame)) > c.maxFrameSize {
			continue
		}
		if err := fn(frame); err != nil {
			return err
		}
	}
}
