// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package digest_test

import (
	"bytes"
	"encoding/json"
	"testing"

	fuzz "github.com/google/gofuzz"

	"github.com/evidentia/custody/digest"
	"github.com/evidentia/custody/errors"
)

func TestCompute(t *testing.T) {
	d := digest.Compute([]byte(""))
	if got, want := d.String(), "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if d.IsZero() {
		t.Error("digest of empty input is not the zero digest")
	}
}

func TestComputeReader(t *testing.T) {
	payload := []byte("chain of custody")
	d, n, err := digest.ComputeReader(bytes.NewReader(payload))
	if err != nil {
		t.Fatal(err)
	}
	if got, want := n, int64(len(payload)); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
	if got, want := d, digest.Compute(payload); got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestParseRoundTrip(t *testing.T) {
	fz := fuzz.New().NilChance(0)
	for i := 0; i < 100; i++ {
		var payload []byte
		fz.Fuzz(&payload)
		d := digest.Compute(payload)
		parsed, err := digest.Parse(d.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != d {
			t.Errorf("got %v, want %v", parsed, d)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"",
		"abc",
		"zzzzc44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	} {
		if _, err := digest.Parse(s); !errors.Is(errors.Invalid, err) {
			t.Errorf("Parse(%q): got %v, want Invalid", s, err)
		}
	}
}

func TestTextMarshaling(t *testing.T) {
	d := digest.Compute([]byte("evidence"))
	b, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	var parsed digest.Digest
	if err := json.Unmarshal(b, &parsed); err != nil {
		t.Fatal(err)
	}
	if parsed != d {
		t.Errorf("got %v, want %v", parsed, d)
	}

	var zero digest.Digest
	b, err = json.Marshal(zero)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := string(b), `""`; got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}
