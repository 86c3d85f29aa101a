// Copyright 2018-2022 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ds advertises a ptysd instance over DNS-SD and lets clients
// find one. The advertisement carries arch/os/cores records plus a
// live session count, refreshed as sessions come and go.
package ds

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/brutella/dnssd"
)

var (
	v      = func(string, ...interface{}) {}
	cancel = func() {}

	sesMu    sync.Mutex
	sessions int
	sesChan  = make(chan struct{}, 1)
)

// Simple form dns-sd query.
type Query struct {
	Type   string
	Domain string
	Text   map[string][]string
}

const (
	// DefaultService is the advertised DNS-SD service type.
	DefaultService = "_ptysd._tcp"

	dsTimeout  = 1 * time.Second // query timeout
	timeFormat = "15:04:05.000"
	dsUpdate   = 60 * time.Second // advertisement refresh
)

// SetVerbose sets the debug print function.
func SetVerbose(f func(string, ...interface{})) {
	v = f
}

// required checks that a dns-sd response has all requested attributes.
func required(src map[string]string, req map[string][]string) bool {
	for k := range req {
		if !slices.Contains(req[k], src[k]) {
			return false
		}
	}
	return true
}

// usable reports whether a browse entry can serve the query: it must
// carry at least one address and every requested attribute.
func usable(e *dnssd.BrowseEntry, req map[string][]string) bool {
	return len(e.IPs) > 0 && required(e.Text, req)
}

// Parse turns a dnssd: URI into a Query, following the dns-sd URI
// conventions from CUPS: dnssd://domain/_service._tcp?key=value.
// Anything omitted falls back to the local domain and the ptysd
// service type.
func Parse(uri string) (Query, error) {
	result := Query{
		Type:   DefaultService,
		Domain: "local",
	}

	u, err := url.Parse(uri)
	if err != nil {
		return result, fmt.Errorf("trouble parsing url %s: %w", uri, err)
	}
	if u.Scheme != "dnssd" {
		return result, fmt.Errorf("%q is not a dns-sd URI", uri)
	}

	if u.Host != "" {
		result.Domain = u.Host
	}
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		result.Type = p
	}
	result.Text = u.Query()

	if len(result.Text["arch"]) == 0 {
		result.Text["arch"] = []string{runtime.GOARCH}
	}
	if len(result.Text["os"]) == 0 {
		result.Text["os"] = []string{runtime.GOOS}
	}
	return result, nil
}

// Lookup browses for an instance matching the query and returns a host
// and port to dial.
func Lookup(query Query) (string, string, error) {
	ctx, ctxCancel := context.WithTimeout(context.Background(), dsTimeout)
	defer ctxCancel()

	service := fmt.Sprintf("%s.%s.", strings.Trim(query.Type, "."), strings.Trim(query.Domain, "."))
	v("browsing for %s", service)

	respCh := make(chan *dnssd.BrowseEntry, 1)
	addFn := func(e dnssd.BrowseEntry) {
		v("%s\tadd\t%s\t%s\t%s\t%s (%s)", time.Now().Format(timeFormat), e.IfaceName, e.Domain, e.Type, e.Name, e.IPs)
		if usable(&e, query.Text) {
			respCh <- &e
		}
	}
	rmvFn := func(e dnssd.BrowseEntry) {
		v("%s\trmv\t%s\t%s\t%s\t%s", time.Now().Format(timeFormat), e.IfaceName, e.Domain, e.Type, e.Name)
	}

	go func() {
		if err := dnssd.LookupType(ctx, service, addFn, rmvFn); err != nil {
			v("dnssd lookup: %v", err)
		}
		respCh <- nil
	}()

	e := <-respCh
	if e == nil {
		return "", "", fmt.Errorf("dnssd found no suitable %s instance", query.Type)
	}
	if len(e.IPs) > 1 {
		v("more than one address for %s; using the first", e.Name)
	}
	return e.IPs[0].String(), strconv.Itoa(e.Port), nil
}

// ParseKv parses a dns-sd key=value[,key=value] string into a map,
// with "true" for bare keys.
func ParseKv(arg string) map[string]string {
	txt := make(map[string]string)
	if len(arg) == 0 {
		return txt
	}
	for _, pair := range strings.Split(arg, ",") {
		z := strings.SplitN(pair, "=", 2)
		if len(z) > 1 {
			txt[z[0]] = z[1]
		} else {
			txt[z[0]] = "true"
		}
	}
	return txt
}

// Unregister stops the advertisement.
func Unregister() {
	v("stopping dns-sd responder")
	cancel()
}

// DefaultInstance names the advertisement after the host.
func DefaultInstance() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "ptysd"
	}
	return hostname + "-ptysd"
}

// DefaultTxt fills in the records every advertisement carries.
func DefaultTxt(txt map[string]string) {
	if len(txt["arch"]) == 0 {
		txt["arch"] = runtime.GOARCH
	}
	if len(txt["os"]) == 0 {
		txt["os"] = runtime.GOOS
	}
	if len(txt["cores"]) == 0 {
		txt["cores"] = strconv.Itoa(runtime.NumCPU())
	}
}

// Session adjusts the advertised live-session count by delta. Wired to
// the server's notify hook. It never blocks: the count is kept here
// and sesChan only kicks a refresh, dropped when no responder is
// running or one is already pending.
func Session(delta int) {
	sesMu.Lock()
	sessions += delta
	sesMu.Unlock()
	v("session delta %d", delta)
	select {
	case sesChan <- struct{}{}:
	default:
	}
}

func sessionCount() int {
	sesMu.Lock()
	defer sesMu.Unlock()
	return sessions
}

// Register starts advertising this daemon. The advertisement refreshes
// on every session change and periodically in between.
func Register(instance, domain, service, iface string, port int, txt map[string]string) error {
	v("starting dns-sd responder")

	ctx, ctxCancel := context.WithCancel(context.Background())
	cancel = ctxCancel

	resp, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("dnssd responder: %w", err)
	}

	ifaces := []string{}
	if len(iface) > 0 {
		ifaces = append(ifaces, iface)
	}
	if len(instance) == 0 {
		instance = DefaultInstance()
	}

	DefaultTxt(txt)
	updateSysInfo(txt)

	v("advertising %s.%s.%s.", strings.Trim(instance, "."), strings.Trim(service, "."), strings.Trim(domain, "."))
	cfg := dnssd.Config{
		Name:   instance,
		Type:   service,
		Domain: domain,
		Port:   port,
		Ifaces: ifaces,
		Text:   txt,
	}
	srv, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("ptysd: advertise: new service: %w", err)
	}

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(1 * time.Second):
		}
		handle, err := resp.Add(srv)
		if err != nil {
			v("dnssd add: %v", err)
			return
		}
		v("%s\tservice %s registered and active", time.Now().Format(timeFormat), handle.Service().ServiceInstanceName())
		ticker := time.NewTicker(dsUpdate)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sesChan:
			case <-ticker.C:
			}
			updateSysInfo(txt)
			handle.UpdateText(txt, resp)
		}
	}()

	go func() {
		if err := resp.Respond(ctx); err != nil {
			v("dnssd respond: %v", err)
		} else {
			v("dns-sd responder exited")
		}
	}()

	return nil
}
