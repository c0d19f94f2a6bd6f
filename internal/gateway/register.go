package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
)

// RegisterImage is one validated capture for a registration.
type RegisterImage struct {
	Angle string
	Data  []byte
}

// RegisterRequest bundles all captures of one identity.
type RegisterRequest struct {
	Name   string
	Images []RegisterImage
}

// RegisterResult is the backend's registration response.
type RegisterResult struct {
	Success      bool     `json:"success"`
	Message      string   `json:"message"`
	Filename     string   `json:"filename"`
	AnglesSaved  int      `json:"angles_saved"`
	Files        []string `json:"files"`
	ProfilePhoto string   `json:"profile_photo"`
	Error        string   `json:"error"`
}

// RegisterFace uploads the captures of one identity in a single request.
// Image parts are named "<name>_<angle>.jpg" and the angle list is sent
// as a JSON array.
func (c *Client) RegisterFace(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	if req.Name == "" {
		return nil, errors.New("register face: name is required")
	}
	if len(req.Images) == 0 {
		return nil, errors.New("register face: no images to upload")
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	angles := make([]string, 0, len(req.Images))
	for _, img := range req.Images {
		fileName := fmt.Sprintf("%s_%s.jpg", req.Name, img.Angle)
		if err := addImagePart(writer, "images", fileName, img.Data); err != nil {
			return nil, err
		}
		angles = append(angles, img.Angle)
	}

	anglesJSON, err := json.Marshal(angles)
	if err != nil {
		return nil, fmt.Errorf("could not marshal angles: %w", err)
	}
	if err := writer.WriteField("name", req.Name); err != nil {
		return nil, fmt.Errorf("could not write name field: %w", err)
	}
	if err := writer.WriteField("angles", string(anglesJSON)); err != nil {
		return nil, fmt.Errorf("could not write angles field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("could not close writer: %w", err)
	}

	res, err := doRequest[RegisterResult](ctx, c, http.MethodPost, "register-face", &body, writer.FormDataContentType(), http.StatusOK, http.StatusCreated)
	if err != nil {
		return nil, fmt.Errorf("register face: %w", err)
	}
	if res.Error != "" {
		return nil, fmt.Errorf("register face: %s", res.Error)
	}
	return res, nil
}
