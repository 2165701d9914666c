package interfaces

import "context"

// BlobStorage persists raw message payloads. Keys are relative slash-separated
// paths built from sanitized account/folder/filename components.
type BlobStorage interface {
	Exists(ctx context.Context, key string) (bool, error)
	Write(ctx context.Context, key string, data []byte) error
}
