// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package drv

import "testing"

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		d    *Derivation
		want string // expected ValidationError.Field, or "" if valid
	}{
		{
			name: "Valid",
			d:    &Derivation{Name: "hello", Builder: "/bin/sh"},
		},
		{
			name: "EmptyName",
			d:    &Derivation{Name: "", Builder: "/bin/sh"},
			want: "name",
		},
		{
			name: "NameContainsSlash",
			d:    &Derivation{Name: "hello/world", Builder: "/bin/sh"},
			want: "name",
		},
		{
			name: "NameContainsNUL",
			d:    &Derivation{Name: "hello\x00", Builder: "/bin/sh"},
			want: "name",
		},
		{
			name: "EmptyBuilder",
			d:    &Derivation{Name: "hello", Builder: ""},
			want: "builder",
		},
		{
			name: "FixedOutputBadAlgo",
			d: &Derivation{
				Name:           "fetched",
				Builder:        "/bin/fetch",
				OutputHash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
				OutputHashAlgo: "md5",
			},
			want: "outputHashAlgo",
		},
		{
			name: "FixedOutputSHA256",
			d: &Derivation{
				Name:           "fetched",
				Builder:        "/bin/fetch",
				OutputHash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
				OutputHashAlgo: "sha256",
			},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := validate(test.d)
			if test.want == "" {
				if err != nil {
					t.Errorf("validate(...) error = %v; want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("validate(...) error = nil; want *ValidationError on field %q", test.want)
			}
			verr, ok := err.(*ValidationError)
			if !ok {
				t.Fatalf("validate(...) error type = %T; want *ValidationError", err)
			}
			if verr.Field != test.want {
				t.Errorf("ValidationError.Field = %q; want %q", verr.Field, test.want)
			}
		})
	}
}

func TestIsFixedOutput(t *testing.T) {
	plain := &Derivation{Name: "hello", Builder: "/bin/sh"}
	if plain.IsFixedOutput() {
		t.Error("IsFixedOutput() = true for a plain derivation; want false")
	}
	fixed := &Derivation{
		Name:           "fetched",
		Builder:        "/bin/fetch",
		OutputHash:     "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa",
		OutputHashAlgo: "sha256",
	}
	if !fixed.IsFixedOutput() {
		t.Error("IsFixedOutput() = false for a derivation with OutputHash set; want true")
	}
}
