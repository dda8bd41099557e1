// SPDX-License-Identifier: Apache-2.0

package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestOrderedEmbeddedFiles(t *testing.T) {
	files, err := Ordered()
	if err != nil {
		t.Fatalf("load embedded migrations: %v", err)
	}
	if len(files) == 0 {
		t.Fatal("expected embedded migrations")
	}
	for i, f := range files {
		if f.Version != i+1 {
			t.Fatalf("expected contiguous versions, %s has version %d at index %d", f.Name, f.Version, i)
		}
		if len(f.Checksum) != 64 {
			t.Fatalf("expected sha256 hex checksum for %s, got %q", f.Name, f.Checksum)
		}
	}
}

func TestLoadSortsNumericallyAndIgnoresOtherFiles(t *testing.T) {
	fsys := fstest.MapFS{
		"10_later.sql":   {Data: []byte("SELECT 10;")},
		"2_second.sql":   {Data: []byte("SELECT 2;")},
		"0001_first.sql": {Data: []byte("SELECT 1;")},
		"README.md":      {Data: []byte("notes")},
	}

	files, err := Load(fsys)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	var names []string
	for _, f := range files {
		names = append(names, f.Name)
	}
	if got := strings.Join(names, ","); got != "0001_first.sql,2_second.sql,10_later.sql" {
		t.Fatalf("unexpected order %s", got)
	}
}

func TestLoadChecksumTracksContent(t *testing.T) {
	a, err := Load(fstest.MapFS{"0001_x.sql": {Data: []byte("SELECT 1;")}})
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, err := Load(fstest.MapFS{"0001_x.sql": {Data: []byte("SELECT 2;")}})
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if a[0].Checksum == b[0].Checksum {
		t.Fatal("expected different checksums for different content")
	}
}

func TestLoadRejectsBadNames(t *testing.T) {
	cases := map[string]fstest.MapFS{
		"no prefix":  {"identity.sql": {Data: []byte("")}},
		"non number": {"abc_identity.sql": {Data: []byte("")}},
		"zero":       {"0000_identity.sql": {Data: []byte("")}},
		"duplicate": {
			"0001_a.sql": {Data: []byte("")},
			"1_b.sql":    {Data: []byte("")},
		},
	}
	for name, fsys := range cases {
		if _, err := Load(fsys); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}
