package gateway

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

// Quality is the backend's verdict on a face image.
type Quality string

// Quality values returned by the quality check.
const (
	QualityGood       Quality = "good"
	QualityPoor       Quality = "poor"
	QualityTooClose   Quality = "too_close"
	QualityTooFar     Quality = "too_far"
	QualityWrongAngle Quality = "wrong_angle"
)

// QualityResult is the outcome of one face quality check.
type QualityResult struct {
	Detected bool     `json:"detected"`
	Quality  Quality  `json:"quality"`
	Message  string   `json:"message"`
	FaceSize *float64 `json:"faceSize,omitempty"`
}

// Good reports a detected face of acceptable quality.
func (q *QualityResult) Good() bool {
	return q != nil && q.Detected && q.Quality == QualityGood
}

// DetectFaceQuality scores a JPEG frame for the given capture angle.
// Non-2xx responses are returned as *StatusError with the server message.
func (c *Client) DetectFaceQuality(ctx context.Context, image []byte, angle string) (*QualityResult, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := addImagePart(writer, "image", "frame.jpg", image); err != nil {
		return nil, err
	}
	if err := writer.WriteField("angle", angle); err != nil {
		return nil, fmt.Errorf("could not write angle field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	res, err := doRequest[QualityResult](ctx, c, http.MethodPost, "detect-face-quality", &body, writer.FormDataContentType(), http.StatusOK)
	if err != nil {
		return nil, fmt.Errorf("detect face quality: %w", err)
	}
	return res, nil
}

// addImagePart writes a JPEG file part to the multipart writer.
func addImagePart(writer *multipart.Writer, field, fileName string, data []byte) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, fileName))
	h.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(h)
	if err != nil {
		return fmt.Errorf("could not create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("could not copy image data: %w", err)
	}
	return nil
}
