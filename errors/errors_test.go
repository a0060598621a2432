// Copyright 2026 Evidentia, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

package errors_test

import (
	"context"
	goerrors "errors"
	"fmt"
	"os"
	"testing"

	"github.com/evidentia/custody/errors"
)

func TestError(t *testing.T) {
	_, err := os.Open("/dev/notexist")
	e1 := errors.E(errors.NotExist, "opening file", err)
	if got, want := e1.Error(), "opening file: resource does not exist: open /dev/notexist: no such file or directory"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	e2 := errors.E(err)
	if got, want := e2.Error(), "resource does not exist: open /dev/notexist: no such file or directory"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	for _, e := range []error{e1, e2} {
		if !errors.Is(errors.NotExist, e) {
			t.Errorf("error %v should be NotExist", e)
		}
	}
}

func TestErrorChaining(t *testing.T) {
	err := goerrors.New("custodian mismatch")
	err = errors.E("checking custody", err)
	err = errors.E(errors.NotAllowed, "cannot proceed", err)
	if got, want := err.Error(), "cannot proceed: not permitted:\n\tchecking custody: custodian mismatch"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	if !errors.Is(errors.NotAllowed, err) {
		t.Errorf("error %v should be NotAllowed", err)
	}
}

func TestKindClassification(t *testing.T) {
	for _, c := range []struct {
		err  error
		kind errors.Kind
	}{
		{errors.E(context.Canceled), errors.Canceled},
		{errors.E(errors.Invalid, "no files supplied"), errors.Invalid},
		{errors.E(errors.Conflict, "pending transfer exists"), errors.Conflict},
		{errors.E(errors.State, "transfer not pending"), errors.State},
		{errors.E(errors.Integrity, "digest mismatch"), errors.Integrity},
		{errors.E(errors.Tampered, "chain broken at seq 3"), errors.Tampered},
	} {
		if !errors.Is(c.kind, c.err) {
			t.Errorf("error %v should have kind %v", c.err, c.kind)
		}
	}
}

func TestIsDoesNotMatchOther(t *testing.T) {
	err := errors.E("plain annotation", goerrors.New("x"))
	for kind := errors.Kind(1); kind < errors.Tampered; kind++ {
		if errors.Is(kind, err) {
			t.Errorf("kind-less error matched %v", kind)
		}
	}
	if errors.Is(errors.Invalid, nil) {
		t.Error("nil error matched Invalid")
	}
}

func TestUnwrap(t *testing.T) {
	cause := goerrors.New("root cause")
	err := errors.E(errors.Integrity, "decrypting blob", cause)
	if !goerrors.Is(err, cause) {
		t.Errorf("error %v should unwrap to %v", err, cause)
	}
}

func TestMatch(t *testing.T) {
	for _, c := range []struct {
		err1, err2 error
		match      bool
	}{
		{errors.E(errors.Invalid), errors.E(errors.Invalid, "metadata incomplete"), true},
		{errors.E(errors.Invalid, "metadata incomplete"), errors.E(errors.Invalid, "metadata incomplete"), true},
		{errors.E(errors.Invalid, "metadata incomplete"), errors.E(errors.Invalid, "other message"), false},
		{errors.E(errors.Conflict), errors.E(errors.State), false},
		{errors.E("x", fmt.Errorf("cause")), errors.E("x", fmt.Errorf("cause")), true},
		{errors.E("x", fmt.Errorf("cause")), errors.E("x", fmt.Errorf("other")), false},
	} {
		if got, want := errors.Match(c.err1, c.err2), c.match; got != want {
			t.Errorf("Match(%v, %v): got %v, want %v", c.err1, c.err2, got, want)
		}
	}
}

func TestRecover(t *testing.T) {
	plain := goerrors.New("plain")
	e := errors.Recover(plain)
	if e.Err != plain {
		t.Errorf("got %v, want %v", e.Err, plain)
	}
	typed := errors.E(errors.NotExist, "no such item").(*errors.Error)
	if got := errors.Recover(typed); got != typed {
		t.Errorf("got %v, want %v", got, typed)
	}
	if errors.Recover(nil) != nil {
		t.Error("Recover(nil) should be nil")
	}
}
