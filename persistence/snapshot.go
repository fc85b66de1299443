package persistence

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/htmgo/connections"
	"github.com/hupe1980/htmgo/homeostasis"
	"github.com/hupe1980/htmgo/internal/binenc"
	"github.com/hupe1980/htmgo/internal/hash"
)

// Snapshot is the decoded content of a snapshot.
type Snapshot struct {
	RunID       uuid.UUID
	Created     time.Time
	Connections *connections.Connections
	// Homeostasis holds the encoded controller state, nil when the snapshot
	// was written without a controller.
	Homeostasis []byte
}

// NewSnapshot captures conn and, when hpc is not nil, the controller state.
func NewSnapshot(runID uuid.UUID, conn *connections.Connections, hpc *homeostasis.Controller) (*Snapshot, error) {
	snap := &Snapshot{
		RunID:       runID,
		Created:     time.Now(),
		Connections: conn,
	}
	if hpc != nil {
		state, err := hpc.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("encode homeostasis: %w", err)
		}
		snap.Homeostasis = state
	}
	return snap, nil
}

// RestoreHomeostasis loads the captured controller state into hpc. It is a
// no-op when the snapshot carries none.
func (s *Snapshot) RestoreHomeostasis(hpc *homeostasis.Controller) error {
	if s.Homeostasis == nil || hpc == nil {
		return nil
	}
	return hpc.UnmarshalBinary(s.Homeostasis)
}

// Encode writes snap to w using compression c.
func Encode(w io.Writer, snap *Snapshot, c CompressionType) error {
	if snap == nil || snap.Connections == nil {
		return errors.New("persistence: snapshot without connections")
	}

	conn, err := snap.Connections.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode connections: %w", err)
	}

	var payload bytes.Buffer
	e := binenc.NewWriter(&payload)
	e.Section("snapshot")
	e.Bytes(conn)
	e.Bool(snap.Homeostasis != nil)
	if snap.Homeostasis != nil {
		e.Bytes(snap.Homeostasis)
	}
	if err := e.Err(); err != nil {
		return err
	}
	raw := payload.Bytes()

	stored, applied, err := compress(raw, c)
	if err != nil {
		return fmt.Errorf("compress payload: %w", err)
	}

	h := Header{
		Magic:       MagicNumber,
		Version:     Version,
		Compression: applied,
		RunID:       snap.RunID,
		CreatedUnix: snap.Created.UnixNano(),
		RawSize:     uint64(len(raw)),
		StoredSize:  uint64(len(stored)),
		Checksum:    hash.CRC32C(stored),
	}
	if snap.Homeostasis != nil {
		h.Flags |= FlagHomeostasis
	}
	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// Decode reads a snapshot written by Encode.
func Decode(r io.Reader) (*Snapshot, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return nil, err
	}

	stored, err := readPayload(r, h)
	if err != nil {
		return nil, err
	}

	raw, err := decompress(stored, h.Compression, h.RawSize)
	if err != nil {
		return nil, fmt.Errorf("decompress payload: %w", err)
	}

	d := binenc.NewReader(bytes.NewReader(raw))
	d.Section("snapshot")
	connState := d.Bytes()
	var hpcState []byte
	if d.Bool() {
		hpcState = d.Bytes()
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if (h.Flags&FlagHomeostasis != 0) != (hpcState != nil) {
		return nil, fmt.Errorf("%w: homeostasis flag disagrees with payload", ErrTruncated)
	}

	conn, err := connections.Decode(bytes.NewReader(connState))
	if err != nil {
		return nil, fmt.Errorf("decode connections: %w", err)
	}

	snap := &Snapshot{
		RunID:       uuid.UUID(h.RunID),
		Created:     time.Unix(0, h.CreatedUnix),
		Connections: conn,
		Homeostasis: hpcState,
	}
	return snap, nil
}

// ReadHeader reads and validates a snapshot header.
func ReadHeader(r io.Reader) (*Header, error) {
	var h Header
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: header", ErrTruncated)
		}
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return &h, nil
}

// Marshal encodes snap into a byte slice.
func Marshal(snap *Snapshot, c CompressionType) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, snap, c); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a snapshot from data.
func Unmarshal(data []byte) (*Snapshot, error) {
	return Decode(bytes.NewReader(data))
}
