// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package kar

import (
	"bytes"
	"testing"
	"time"
)

func TestAddAndWrite(t *testing.T) {
	builder, err := NewBuilder(Header{
		Author:      "devblok",
		DateCreated: time.Now().Unix(),
		Version:     1,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	if err := builder.Add("test", bytes.NewReader([]byte("idunvovkjnreovmegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}
	if err := builder.Add("test2", bytes.NewReader([]byte("idunvovkjnreovmsdvwrvnervnreegihjbrqlkmfrjnb"))); err != nil {
		t.Error(err)
	}

	if len(builder.files) != 2 {
		t.Error("incorrect number of files present")
	}

	buf := bytes.NewBuffer([]byte{})
	num, err := builder.WriteTo(buf)
	if err != nil {
		t.Error(err)
	}
	if num != int64(buf.Len()) {
		t.Errorf("reported %d bytes, wrote %d", num, buf.Len())
	}
}

func TestAddReplacesName(t *testing.T) {
	builder, err := NewBuilder(Header{Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	defer builder.Close()

	builder.Add("same", bytes.NewReader([]byte("first")))
	builder.Add("same", bytes.NewReader([]byte("second")))

	if builder.Len() != 1 {
		t.Fatalf("expected one file, got %d", builder.Len())
	}
}

func TestClosedBuilder(t *testing.T) {
	builder, err := NewBuilder(Header{Version: 1})
	if err != nil {
		t.Fatal(err)
	}
	if err := builder.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := builder.WriteTo(bytes.NewBuffer(nil)); err != ErrClosed {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

func TestHeaderSizeEncoding(t *testing.T) {
	encoded := int64ToBinary(1234567)
	if len(encoded) != HeaderSizeNumberLength {
		t.Fatalf("encoded length %d", len(encoded))
	}
	num, err := binaryToint64(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if num != 1234567 {
		t.Errorf("decoded %d", num)
	}
}
