// Copyright 2026 the tbot Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package machine

import (
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/jiuzhuaxiong/tbot/config"
	sshconfig "github.com/kevinburke/ssh_config"
	"github.com/mdlayher/vsock"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Manager is the name-keyed registry of live machines. It owns the lab
// transport: machines registered with it are torn down in reverse order of
// creation, before the connection they depend on is closed.
type Manager struct {
	// Connection is the SSH client all lab-side sessions are opened on.
	Connection *ssh.Client

	machines map[string]Machine
	order    []string
	ownsConn bool
}

// Connect builds a Manager. If existing is non-nil it is adopted unchanged
// and stays owned by the caller. Otherwise a connection is dialed from the
// configuration surface: lab.hostname is required; lab.port, lab.user,
// lab.password and lab.keyfile are applied only when present, with gaps
// filled from ~/.ssh/config. With lab.vsock set, the SSH handshake runs
// over an AF_VSOCK socket instead of TCP.
func Connect(ctx *Context, existing *ssh.Client) (*Manager, error) {
	mgr := &Manager{machines: map[string]Machine{}}
	if existing != nil {
		mgr.Connection = existing
		return mgr, nil
	}

	cfg := ctx.Config
	host, err := cfg.Require("lab.hostname")
	if err != nil {
		return nil, err
	}

	clientCfg := &ssh.ClientConfig{
		User:            lookupUser(cfg, host),
		HostKeyCallback: hostKeyCallback(cfg),
	}
	if kf := keyFile(cfg, host); kf != "" {
		signer, err := loadKey(kf)
		if err != nil {
			// A keyfile named in the config must work; one picked up from
			// ssh_config is best effort.
			if cfg.Has("lab.keyfile") {
				return nil, err
			}
			V("skipping unusable key %q: %v", kf, err)
		} else {
			clientCfg.Auth = append(clientCfg.Auth, ssh.PublicKeys(signer))
		}
	}
	if pw := cfg.String("lab.password", ""); pw != "" {
		clientCfg.Auth = append(clientCfg.Auth, ssh.Password(pw))
	}

	port := cfg.String("lab.port", "")
	if port == "" {
		port = sshconfig.Get(host, "Port")
	}
	if port == "" {
		port = "22"
	}

	client, err := dial(cfg, host, port, clientCfg)
	if err != nil {
		return nil, err
	}
	mgr.Connection = client
	mgr.ownsConn = true
	return mgr, nil
}

func dial(cfg *config.Config, host, port string, clientCfg *ssh.ClientConfig) (*ssh.Client, error) {
	if cfg.Has("lab.vsock") {
		cid := cfg.Int("lab.vsock", 0)
		portNum, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("vsock port %q: %w", port, err)
		}
		conn, err := vsock.Dial(uint32(cid), uint32(portNum), nil)
		if err != nil {
			return nil, fmt.Errorf("vsock dial cid %d port %d: %w", cid, portNum, err)
		}
		addr := fmt.Sprintf("vsock:%d:%d", cid, portNum)
		cc, chans, reqs, err := ssh.NewClientConn(conn, addr, clientCfg)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("ssh handshake on %s: %w", addr, err)
		}
		return ssh.NewClient(cc, chans, reqs), nil
	}

	// The ssh config may map the short host name to a real one.
	hostname := host
	if h := sshconfig.Get(host, "HostName"); h != "" {
		hostname = h
	}
	addr := net.JoinHostPort(hostname, port)
	client, err := ssh.Dial("tcp", addr, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return client, nil
}

func lookupUser(cfg *config.Config, host string) string {
	if u := cfg.String("lab.user", ""); u != "" {
		return u
	}
	if u := sshconfig.Get(host, "User"); u != "" {
		return u
	}
	return os.Getenv("USER")
}

func keyFile(cfg *config.Config, host string) string {
	kf := cfg.String("lab.keyfile", "")
	if kf == "" {
		kf = sshconfig.Get(host, "IdentityFile")
	}
	// The ssh_config package does not expand ~.
	if strings.HasPrefix(kf, "~") {
		kf = filepath.Join(os.Getenv("HOME"), kf[1:])
	}
	return kf
}

func loadKey(path string) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key %q: %w", path, err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parse private key %q: %w", path, err)
	}
	return signer, nil
}

func hostKeyCallback(cfg *config.Config) ssh.HostKeyCallback {
	if cfg.Bool("lab.insecure", false) {
		return ssh.InsecureIgnoreHostKey()
	}
	kh := filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts")
	if cb, err := knownhosts.New(kh); err == nil {
		return cb
	}
	// No known_hosts to check against.
	return ssh.InsecureIgnoreHostKey()
}

// Register runs Setup on m, layered over previous if given, and records
// the result under its unique name. On a Setup error the machine's
// Teardown still runs, so a half-built machine never leaks its session.
func (mgr *Manager) Register(ctx *Context, m Machine, previous Machine) (Machine, error) {
	set, err := m.Setup(ctx, previous)
	if err != nil {
		if terr := m.Teardown(ctx); terr != nil {
			err = multierror.Append(err, terr)
		}
		return nil, err
	}
	name := set.UniqueName()
	if _, ok := mgr.machines[name]; ok {
		return nil, fmt.Errorf("machine %q already registered", name)
	}
	mgr.machines[name] = set
	mgr.order = append(mgr.order, name)
	return set, nil
}

// Get returns the machine registered under name.
func (mgr *Manager) Get(name string) (Machine, bool) {
	m, ok := mgr.machines[name]
	return m, ok
}

// Close tears down all machines in reverse order of registration and then
// closes the connection if the manager dialed it. Errors are collected,
// not short-circuited; every machine gets its teardown.
func (mgr *Manager) Close(ctx *Context) error {
	var result error
	for i := len(mgr.order) - 1; i >= 0; i-- {
		m := mgr.machines[mgr.order[i]]
		if err := m.Teardown(ctx); err != nil {
			result = multierror.Append(result, err)
		}
	}
	mgr.order = nil
	mgr.machines = map[string]Machine{}
	if mgr.ownsConn && mgr.Connection != nil {
		if err := mgr.Connection.Close(); err != nil && err != io.EOF {
			result = multierror.Append(result, err)
		}
		mgr.Connection = nil
	}
	return result
}
