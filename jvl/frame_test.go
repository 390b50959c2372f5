package jvl

import (
	"errors"
	"testing"
)

func TestReadRequestManualExample(t *testing.T) {
	// firmware version from motor 254
	msg := EncodeRead(254, 0x01)
	truth := []byte{0x50, 0x50, 0x50, 0xFE, 0x01, 0x01, 0xFE, 0xAA, 0xAA}
	if len(msg) != len(truth) {
		t.Fatal("encoded request and truth differ in length")
	}
	for i := 0; i < len(msg); i++ {
		if msg[i] != truth[i] {
			t.Errorf("byte %d mismatch, expected %X got %X", i, truth[i], msg[i])
		}
	}
}

func TestWriteRequest(t *testing.T) {
	msg, err := EncodeWrite(255, 2, []byte{0x02, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	truth := []byte{0x52, 0x52, 0x52, 0xFF, 0x00, 0x02, 0xFD, 0x02, 0xFD, 0x02, 0xFD, 0x00, 0xFF, 0xAA, 0xAA}
	if len(msg) != len(truth) {
		t.Fatalf("encoded request and truth differ in length, %d != %d", len(msg), len(truth))
	}
	for i := 0; i < len(msg); i++ {
		if msg[i] != truth[i] {
			t.Errorf("byte %d mismatch, expected %X got %X", i, truth[i], msg[i])
		}
	}
}

func TestWriteRequestRejectsOddAndLong(t *testing.T) {
	if _, err := EncodeWrite(1, 3, []byte{1, 2, 3}); !errors.Is(err, ErrOddLength) {
		t.Errorf("expected ErrOddLength, got %v", err)
	}
	if _, err := EncodeWrite(1, 3, make([]byte, 256)); !errors.Is(err, ErrTooLong) {
		t.Errorf("expected ErrTooLong, got %v", err)
	}
}

func TestResponseUnframing(t *testing.T) {
	resp := []byte{0x52, 0x52, 0x52, 0x00, 0xFF, 0x0A, 0xF5, 0x04, 0xFB,
		0x10, 0xEF, 0x27, 0xD8, 0x00, 0xFF, 0x00, 0xFF, 0xAA, 0xAA}
	data, err := DecodeReadResponse(resp, 0x0A)
	if err != nil {
		t.Fatal(err)
	}
	truthData := []byte{0x10, 0x27, 0x00, 0x00}
	for i := range truthData {
		if data[i] != truthData[i] {
			t.Errorf("byte %d mismatch, expected %X got %X", i, truthData[i], data[i])
		}
	}
}

func TestResponseRoundTrip(t *testing.T) {
	data := [ReadDataSize]byte{0xDE, 0xAD, 0xBE, 0xEF}
	got, err := DecodeReadResponse(EncodeReadResponse(42, data), 42)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(data[:]) {
		t.Errorf("expected % X, got % X", data, got)
	}
}

func TestResponseErrors(t *testing.T) {
	good := func() []byte { return EncodeReadResponse(10, [ReadDataSize]byte{1, 2, 3, 4}) }
	cases := []struct {
		name    string
		mangle  func([]byte) []byte
		reg     byte
		wantErr error
		retry   bool
	}{
		{"short", func(b []byte) []byte { return b[:12] }, 10, ErrShortFrame, true},
		{"header", func(b []byte) []byte { b[1] = 0x50; return b }, 10, ErrFrame, false},
		{"length", func(b []byte) []byte { b[7], b[8] = 0x02, 0xFD; return b }, 10, ErrFrame, false},
		{"end", func(b []byte) []byte { b[18] = 0x00; return b }, 10, ErrFrame, false},
		{"destination", func(b []byte) []byte { b[3], b[4] = 0x07, 0xF8; return b }, 10, ErrWrongDestination, true},
		{"register", func(b []byte) []byte { return b }, 11, ErrWrongRegister, false},
		{"complement", func(b []byte) []byte { b[12] = 0x00; return b }, 10, ErrComplement, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeReadResponse(tc.mangle(good()), tc.reg)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected %v, got %v", tc.wantErr, err)
			}
			if Retryable(err) != tc.retry {
				t.Errorf("expected Retryable to be %v for %v", tc.retry, err)
			}
		})
	}
}

func TestCheckAck(t *testing.T) {
	if err := CheckAck([]byte{0x11, 0x11, 0x11}); err != nil {
		t.Errorf("expected a valid ack, got %v", err)
	}
	if err := CheckAck([]byte{0x11, 0x12, 0x11}); !errors.Is(err, ErrNoAck) {
		t.Errorf("expected ErrNoAck, got %v", err)
	}
	if err := CheckAck([]byte{0x11}); !errors.Is(err, ErrShortFrame) {
		t.Errorf("expected ErrShortFrame, got %v", err)
	}
}
