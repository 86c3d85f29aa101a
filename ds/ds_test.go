// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ds

import (
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/brutella/dnssd"
)

func TestParseDefaults(t *testing.T) {
	q, err := Parse("dnssd:")
	if err != nil {
		t.Fatalf(`Parse("dnssd:"): %v != nil`, err)
	}
	if q.Type != DefaultService {
		t.Fatalf("q.Type: %q != %q", q.Type, DefaultService)
	}
	if q.Domain != "local" {
		t.Fatalf("q.Domain: %q != %q", q.Domain, "local")
	}
	if got := q.Text["arch"]; len(got) != 1 || got[0] != runtime.GOARCH {
		t.Fatalf("q.Text[arch]: %v != [%v]", got, runtime.GOARCH)
	}
}

func TestParseFull(t *testing.T) {
	q, err := Parse("dnssd://example/_shell._tcp?arch=riscv64")
	if err != nil {
		t.Fatalf("Parse(): %v != nil", err)
	}
	if q.Domain != "example" {
		t.Fatalf("q.Domain: %q != %q", q.Domain, "example")
	}
	if q.Type != "_shell._tcp" {
		t.Fatalf("q.Type: %q != %q", q.Type, "_shell._tcp")
	}
	if got := q.Text["arch"]; len(got) != 1 || got[0] != "riscv64" {
		t.Fatalf("q.Text[arch]: %v != [riscv64]", got)
	}
}

func TestParseRejectsOtherSchemes(t *testing.T) {
	if _, err := Parse("http://example"); err == nil {
		t.Fatalf(`Parse("http://example"): nil; expected a scheme error`)
	}
}

func TestParseKv(t *testing.T) {
	kv := ParseKv("color=blue,fast")
	if kv["color"] != "blue" {
		t.Fatalf(`kv["color"]: %q != "blue"`, kv["color"])
	}
	if kv["fast"] != "true" {
		t.Fatalf(`kv["fast"]: %q != "true"; bare keys default to true`, kv["fast"])
	}
	if len(ParseKv("")) != 0 {
		t.Fatalf(`ParseKv(""): non-empty map from empty string`)
	}
}

func TestRequired(t *testing.T) {
	src := map[string]string{"arch": "arm64", "os": "linux"}
	if !required(src, map[string][]string{"arch": {"arm64"}}) {
		t.Fatalf("required(): false; arch matches")
	}
	if required(src, map[string][]string{"arch": {"amd64"}}) {
		t.Fatalf("required(): true; arch does not match")
	}
}

func TestUsableSkipsAddresslessEntries(t *testing.T) {
	req := map[string][]string{"arch": {runtime.GOARCH}}
	e := &dnssd.BrowseEntry{Text: map[string]string{"arch": runtime.GOARCH}}
	if usable(e, req) {
		t.Fatalf("usable(): true for an entry with no addresses")
	}
	e.IPs = []net.IP{net.ParseIP("192.0.2.7")}
	if !usable(e, req) {
		t.Fatalf("usable(): false for a matching entry with an address")
	}
}

func TestSessionNeverBlocks(t *testing.T) {
	before := sessionCount()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 64; i++ {
			Session(1)
		}
		for i := 0; i < 64; i++ {
			Session(-1)
		}
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatalf("Session() blocked with no responder running")
	}
	if got := sessionCount(); got != before {
		t.Fatalf("session count %d != %d after balanced deltas", got, before)
	}
}

func TestDefaultTxt(t *testing.T) {
	txt := map[string]string{}
	DefaultTxt(txt)
	for _, k := range []string{"arch", "os", "cores"} {
		if len(txt[k]) == 0 {
			t.Fatalf("DefaultTxt: %q missing", k)
		}
	}
}
