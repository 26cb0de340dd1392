package data

import "time"

// DataObject is a payload stored in a circle, encrypted under one of the circle's key generations
type DataObject struct {
	ID           string
	CircleID     string
	GenerationID string // Key generation the payload is encrypted under
	Name         string // Unique within the circle
	Checksum     string // Checksum of the plaintext
	Payload      string // Armored ciphertext
	Size         int    // Plaintext size in bytes
	CreatedAt    time.Time
}

// DataInfo represents metadata about a data object without its payload
type DataInfo struct {
	ID           string
	CircleID     string
	GenerationID string
	Name         string
	Checksum     string
	Size         int
	CreatedAt    time.Time
}

// DataQuery represents query parameters for listing data objects
type DataQuery struct {
	CircleID string
	Name     string // empty string means no filter, otherwise a prefix of the name
	Page     int    // 1 based, ignored without PageSize
	PageSize int    // 0 means no pagination
}

// DecryptedData represents a data object with its decrypted payload
type DecryptedData struct {
	DataInfo
	Payload []byte
}

func (o *DataObject) Info() *DataInfo {
	return &DataInfo{
		ID:           o.ID,
		CircleID:     o.CircleID,
		GenerationID: o.GenerationID,
		Name:         o.Name,
		Checksum:     o.Checksum,
		Size:         o.Size,
		CreatedAt:    o.CreatedAt,
	}
}
