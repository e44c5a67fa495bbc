package graph

import "errors"

var (
	// ErrNotFound indicates the addressed node or edge does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable indicates the graph backend could not be reached or a
	// query failed at the connection level.
	ErrUnavailable = errors.New("graph backend unavailable")

	// ErrNotReady indicates the client was used before Connect.
	ErrNotReady = errors.New("graph client not connected")

	// ErrExtraction indicates the extractor rejected an episode.
	ErrExtraction = errors.New("extraction failed")
)
