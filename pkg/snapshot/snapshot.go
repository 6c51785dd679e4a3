// Package snapshot reads and writes MDIB snapshots as JSON documents.
//
// Input may be HuJSON (comments and trailing commas are accepted), so
// hand-written device descriptions stay readable. Output is plain indented
// JSON, written atomically.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/natefinch/atomic"
	"github.com/tailscale/hujson"

	"github.com/Draegerwerk/sdc11073-sub000/pkg/mdib"
)

// ErrInvalid wraps every parse or validation failure.
var ErrInvalid = errors.New("invalid snapshot")

// Read decodes and validates a snapshot.
func Read(r io.Reader) (mdib.Snapshot, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	return Parse(data)
}

// ReadFile reads and validates the snapshot at path.
func ReadFile(path string) (mdib.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("reading snapshot: %w", err)
	}

	snap, err := Parse(data)
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("%s: %w", path, err)
	}

	return snap, nil
}

// Parse decodes and validates a snapshot document.
func Parse(data []byte) (mdib.Snapshot, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	dec := json.NewDecoder(bytes.NewReader(standardized))
	dec.DisallowUnknownFields()

	var snap mdib.Snapshot

	err = dec.Decode(&snap)
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	err = snap.Validate()
	if err != nil {
		return mdib.Snapshot{}, fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	return snap, nil
}

// Marshal encodes snap as indented JSON with a trailing newline.
func Marshal(snap mdib.Snapshot) ([]byte, error) {
	if snap.Descriptors == nil {
		snap.Descriptors = []*mdib.Descriptor{}
	}

	if snap.States == nil {
		snap.States = []*mdib.State{}
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding snapshot: %w", err)
	}

	return append(data, '\n'), nil
}

// Write encodes snap to w.
func Write(w io.Writer, snap mdib.Snapshot) error {
	data, err := Marshal(snap)
	if err != nil {
		return err
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("writing snapshot: %w", err)
	}

	return nil
}

// WriteFile validates snap and replaces path with it atomically: readers see
// either the old file or the complete new one.
func WriteFile(path string, snap mdib.Snapshot) error {
	err := snap.Validate()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}

	data, err := Marshal(snap)
	if err != nil {
		return err
	}

	err = atomic.WriteFile(path, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("writing snapshot %s: %w", path, err)
	}

	return nil
}
