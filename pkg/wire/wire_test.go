package wire

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ryandielhenn/p2pgossip/pkg/peer"
)

func TestByName(t *testing.T) {
	for name, want := range map[string]Codec{"": JSON, "json": JSON, "CBOR": CBOR} {
		got, err := ByName(name)
		if err != nil || got != want {
			t.Fatalf("ByName(%q) = %v,%v", name, got, err)
		}
	}
	if _, err := ByName("xml"); err == nil {
		t.Fatal("ByName(xml) succeeded")
	}
}

func TestNegotiation(t *testing.T) {
	req := httptest.NewRequest("POST", "/message", nil)
	if RequestCodec(req) != JSON || ResponseCodec(req) != JSON {
		t.Fatal("default codec is not JSON")
	}

	req.Header.Set("Content-Type", "application/cbor; charset=binary")
	req.Header.Set("Accept", "text/plain, application/cbor")
	if RequestCodec(req) != CBOR {
		t.Fatal("Content-Type application/cbor not honored")
	}
	if ResponseCodec(req) != CBOR {
		t.Fatal("Accept application/cbor not honored")
	}
}

func TestCodecsCarryDescriptor(t *testing.T) {
	alias := "10.0.0.4"
	in := peer.Descriptor{
		Started:   time.Date(2024, 2, 3, 4, 5, 6, 7, time.UTC),
		Period:    5,
		Port:      8080,
		HostAlias: &alias,
	}
	for _, c := range []Codec{JSON, CBOR} {
		data, err := c.Marshal(in)
		if err != nil {
			t.Fatalf("%s marshal: %v", c.ContentType(), err)
		}
		var out peer.Descriptor
		if err := c.Unmarshal(data, &out); err != nil {
			t.Fatalf("%s unmarshal: %v", c.ContentType(), err)
		}
		if !out.Started.Equal(in.Started) || out.Port != in.Port || out.HostAlias == nil || *out.HostAlias != alias {
			t.Fatalf("%s: got %+v", c.ContentType(), out)
		}
	}
}

func TestWriteSetsContentType(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, CBOR, 201, Message{Message: "hi"})
	if rec.Code != 201 {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != ContentTypeCBOR {
		t.Fatalf("Content-Type = %q", ct)
	}
	var m Message
	if err := CBOR.Unmarshal(rec.Body.Bytes(), &m); err != nil || m.Message != "hi" {
		t.Fatalf("decoded %+v, %v", m, err)
	}
}
