// Package wire defines the request and response bodies exchanged between
// gossip nodes and the codecs used to encode them. JSON is the default;
// CBOR is used when a request asks for it through Content-Type or Accept.
package wire

import (
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Message is the payload pushed to every known peer.
type Message struct {
	Message string `json:"message" cbor:"message"`
}

func (m Message) String() string {
	return "p2pgossip message: " + m.Message
}

// Handshake outcomes reported by POST /connect.
const (
	StatusConnected        = "connected"
	StatusAlreadyConnected = "already_connected"
)

// Ack acknowledges a connect request.
type Ack struct {
	Status  string `json:"status" cbor:"status"`
	Address string `json:"address" cbor:"address"`
}

type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type jsonCodec struct{}

func (jsonCodec) ContentType() string { return ContentTypeJSON }
func (jsonCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

type cborCodec struct {
	enc cbor.EncMode
}

func (cborCodec) ContentType() string { return ContentTypeCBOR }
func (c cborCodec) Marshal(v any) ([]byte, error) { return c.enc.Marshal(v) }
func (cborCodec) Unmarshal(data []byte, v any) error { return cbor.Unmarshal(data, v) }

var (
	JSON Codec = jsonCodec{}
	CBOR Codec = newCBOR()
)

func newCBOR() Codec {
	opts := cbor.CoreDetEncOptions()
	opts.Time = cbor.TimeRFC3339Nano
	enc, err := opts.EncMode()
	if err != nil {
		panic(err)
	}
	return cborCodec{enc: enc}
}

// ByName returns the codec registered under name ("json" or "cbor").
func ByName(name string) (Codec, error) {
	switch strings.ToLower(name) {
	case "", "json":
		return JSON, nil
	case "cbor":
		return CBOR, nil
	default:
		return nil, fmt.Errorf("wire: unknown codec %q", name)
	}
}

// ForContentType maps a media type to its codec, falling back to JSON.
func ForContentType(ct string) Codec {
	mt, _, err := mime.ParseMediaType(ct)
	if err == nil && mt == ContentTypeCBOR {
		return CBOR
	}
	return JSON
}

// RequestCodec is the codec the request body was encoded with.
func RequestCodec(r *http.Request) Codec {
	return ForContentType(r.Header.Get("Content-Type"))
}

// ResponseCodec picks the response codec from the Accept header.
func ResponseCodec(r *http.Request) Codec {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if ForContentType(strings.TrimSpace(part)) == CBOR {
			return CBOR
		}
	}
	return JSON
}

// Write encodes v with c and writes it with the given status.
func Write(w http.ResponseWriter, c Codec, status int, v any) {
	data, err := c.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", c.ContentType())
	w.WriteHeader(status)
	w.Write(data)
}
