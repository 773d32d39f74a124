// Package snapshot decodes market snapshots handed over by the statistics
// provider and encodes allocations for the caller.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/aristath/allocator/internal/modules/optimization"
	"github.com/vmihailenco/msgpack/v5"
)

// Format is a serialization format for snapshots and allocations.
type Format string

const (
	FormatJSON    Format = "json"
	FormatMsgpack Format = "msgpack"
)

// ErrUnknownFormat is returned for formats other than JSON and MessagePack.
var ErrUnknownFormat = errors.New("unknown snapshot format")

// ParseFormat accepts "json", "msgpack" and "mp", case-insensitively.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(strings.TrimPrefix(name, ".")) {
	case "json":
		return FormatJSON, nil
	case "msgpack", "mp":
		return FormatMsgpack, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

// FormatFromPath picks the format from the file extension.
func FormatFromPath(path string) (Format, error) {
	return ParseFormat(filepath.Ext(path))
}

// Decode reads either a single snapshot or a list of snapshots.
func Decode(r io.Reader, format Format) ([]optimization.MarketSnapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	switch format {
	case FormatJSON:
		return decodeJSON(data)
	case FormatMsgpack:
		return decodeMsgpack(data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

func decodeJSON(data []byte) ([]optimization.MarketSnapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var snapshots []optimization.MarketSnapshot
		if err := json.Unmarshal(trimmed, &snapshots); err != nil {
			return nil, fmt.Errorf("failed to decode JSON snapshots: %w", err)
		}
		return snapshots, nil
	}

	var snapshot optimization.MarketSnapshot
	if err := json.Unmarshal(trimmed, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode JSON snapshot: %w", err)
	}
	return []optimization.MarketSnapshot{snapshot}, nil
}

func decodeMsgpack(data []byte) ([]optimization.MarketSnapshot, error) {
	var snapshots []optimization.MarketSnapshot
	if err := msgpack.Unmarshal(data, &snapshots); err == nil {
		return snapshots, nil
	}

	var snapshot optimization.MarketSnapshot
	if err := msgpack.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode msgpack snapshot: %w", err)
	}
	return []optimization.MarketSnapshot{snapshot}, nil
}

// Encode writes v in the given format.
func Encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("failed to encode JSON: %w", err)
		}
		return nil
	case FormatMsgpack:
		if err := msgpack.NewEncoder(w).Encode(v); err != nil {
			return fmt.Errorf("failed to encode msgpack: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ReadFile decodes the snapshots stored at path, using its extension to
// choose the format.
func ReadFile(path string) ([]optimization.MarketSnapshot, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot file: %w", err)
	}
	defer f.Close()

	return Decode(f, format)
}
