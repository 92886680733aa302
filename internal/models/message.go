package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedMessage is returned when a queue body is not a valid
// thumbnail request. Such a message fails the same way on every redelivery.
var ErrMalformedMessage = errors.New("malformed thumbnail message")

// ThumbnailMessage is the body the upload handler enqueues for the worker:
// {"imageId": 42, "blobName": "abc-photo.jpg"}.
type ThumbnailMessage struct {
	ImageID  int64  `json:"imageId"`
	BlobName string `json:"blobName"`
}

func EncodeThumbnailMessage(m ThumbnailMessage) ([]byte, error) {
	return json.Marshal(m)
}

func DecodeThumbnailMessage(body []byte) (ThumbnailMessage, error) {
	var raw struct {
		ImageID  *json.RawMessage `json:"imageId"`
		BlobName *string          `json:"blobName"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(body), &raw); err != nil {
		return ThumbnailMessage{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if raw.ImageID == nil {
		return ThumbnailMessage{}, fmt.Errorf("%w: missing imageId", ErrMalformedMessage)
	}
	var id int64
	if err := json.Unmarshal(*raw.ImageID, &id); err != nil {
		return ThumbnailMessage{}, fmt.Errorf("%w: imageId %s is not an integer", ErrMalformedMessage, string(*raw.ImageID))
	}
	if raw.BlobName == nil || *raw.BlobName == "" {
		return ThumbnailMessage{}, fmt.Errorf("%w: missing blobName", ErrMalformedMessage)
	}
	return ThumbnailMessage{ImageID: id, BlobName: *raw.BlobName}, nil
}
