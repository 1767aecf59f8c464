// Package wire defines the invocation record sent from the shim to a
// collector and its binary envelope.
//
// Each record is a single CBOR map, encoded with Core Deterministic
// Encoding so the same record always produces the same bytes. The
// envelope is self-delimiting: a stream reader can decode exactly one
// record without a length prefix.
package wire

import (
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// SentinelExitCode is reported when the child did not exit normally,
// e.g. it was killed by a signal.
const SentinelExitCode = 99

// MaxDatagram is the largest envelope carried in one datagram. Senders
// drop larger records and collectors read into a buffer of this size.
const MaxDatagram = 64 * 1024

// InvocationRecord describes one wrapped execution.
type InvocationRecord struct {
	// ExecutablePath is the absolute path of the real binary that ran.
	ExecutablePath string `cbor:"executable_path" json:"executable_path"`
	// Arguments excludes argv0.
	Arguments        []string `cbor:"arguments" json:"arguments"`
	DurationMS       int64    `cbor:"duration_ms" json:"duration_ms"`
	ExitCode         int32    `cbor:"exit_code" json:"exit_code"`
	WorkingDirectory string   `cbor:"working_directory" json:"working_directory"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	// Collectors expect an array for arguments even when there are none.
	encOptions.NilContainers = cbor.NilContainerAsEmpty
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("wire: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown keys are ignored so collectors can read records from newer shims.
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("wire: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes rec into one envelope.
func Marshal(rec InvocationRecord) ([]byte, error) {
	data, err := encMode.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode invocation record: %w", err)
	}
	return data, nil
}

// Unmarshal decodes a single envelope. Trailing bytes are an error.
func Unmarshal(data []byte) (InvocationRecord, error) {
	var rec InvocationRecord
	if err := decMode.Unmarshal(data, &rec); err != nil {
		return InvocationRecord{}, fmt.Errorf("decode invocation record: %w", err)
	}
	return rec, nil
}

// Decoder reads consecutive envelopes from a stream.
type Decoder struct {
	dec *cbor.Decoder
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{dec: decMode.NewDecoder(r)}
}

// Decode reads the next envelope. It returns io.EOF when the stream
// ends cleanly between envelopes.
func (d *Decoder) Decode() (InvocationRecord, error) {
	var rec InvocationRecord
	if err := d.dec.Decode(&rec); err != nil {
		return InvocationRecord{}, err
	}
	return rec, nil
}
