// Package archive defines the durable blob store the gateway uploads
// evidence to before referencing it on-chain.
package archive

import (
	"context"
	"errors"
)

// Status is the durability state of an upload.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// ErrUnknownUpload is returned by Status for an id the store never issued.
var ErrUnknownUpload = errors.New("archive: unknown upload")

// Store uploads opaque bytes and reports when they are durable.
type Store interface {
	// Upload stores data and returns a stable upload id. Tags are stored
	// alongside the data as metadata.
	Upload(ctx context.Context, data []byte, tags map[string]string) (string, error)

	// Status reports the durability of a previous upload.
	Status(ctx context.Context, uploadID string) (Status, error)
}

// URI returns the canonical reference for an upload id.
func URI(uploadID string) string {
	return "ar://" + uploadID
}
