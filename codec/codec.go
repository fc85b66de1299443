// Package codec encodes the column records exchanged with partition actors
// and remote partition stores.
//
// Every participant of a cluster must use the same codec: a partition actor
// decodes what the Memory routing to it encoded. Stores that persist records
// keep the codec name next to the data so it can be checked on read.
package codec

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrUnknownCodec is returned by Lookup for a name no built-in codec has.
var ErrUnknownCodec = errors.New("unknown codec")

// Codec turns column records into bytes and back. Partition actors share
// one instance, so implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	// Name identifies the wire format. Two codecs with the same name must
	// read each other's output.
	Name() string
}

var builtin = map[string]Codec{
	JSON{}.Name():   JSON{},
	GoJSON{}.Name(): GoJSON{},
}

// Lookup returns the built-in codec recorded under name.
func Lookup(name string) (Codec, error) {
	if c, ok := builtin[name]; ok {
		return c, nil
	}
	return nil, fmt.Errorf("%w %q (have %v)", ErrUnknownCodec, name, Names())
}

// Names lists the built-in codec names in sorted order.
func Names() []string {
	return slices.Sorted(maps.Keys(builtin))
}

// Or returns c, or Default when c is nil.
func Or(c Codec) Codec {
	if c == nil {
		return Default
	}
	return c
}
