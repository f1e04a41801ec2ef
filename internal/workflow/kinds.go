package workflow

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/zoza1982/picoflow-sub000/internal/xerrors"
)

func decodeAndValidateShell(t *Task) error {
	var c ShellConfig
	if err := t.ConfigNode.Decode(&c); err != nil {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: invalid shell config: %v", t.Name, err)}
	}
	if c.Command == "" || !path.IsAbs(c.Command) {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: shell command must be an absolute path", t.Name)}
	}
	if len(c.Command) > MaxCommandBytes {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: command exceeds %d bytes", t.Name, MaxCommandBytes)}
	}
	if len(c.Args) > MaxArgs {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: has %d args, exceeds %d limit", t.Name, len(c.Args), MaxArgs)}
	}
	for _, a := range c.Args {
		if len(a) > MaxArgBytes {
			return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: arg exceeds %d bytes", t.Name, MaxArgBytes)}
		}
	}
	if c.Workdir != "" {
		if !path.IsAbs(c.Workdir) {
			return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: workdir must be an absolute path", t.Name)}
		}
		if strings.Contains(c.Workdir, "..") {
			return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: workdir must not contain \"..\"", t.Name)}
		}
	}
	t.Shell = &c
	return nil
}

func decodeAndValidateSSH(t *Task) error {
	var c SSHConfig
	if err := t.ConfigNode.Decode(&c); err != nil {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: invalid ssh config: %v", t.Name, err)}
	}
	if c.Host == "" {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: ssh host is required", t.Name)}
	}
	if c.User == "" {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: ssh user is required", t.Name)}
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Port < 1 || c.Port > 65535 {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: ssh port %d out of range", t.Name, c.Port)}
	}
	if len(c.Command) > MaxCommandBytes {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: ssh command exceeds %d bytes", t.Name, MaxCommandBytes)}
	}
	if c.KeyPath != "" && !path.IsAbs(c.KeyPath) {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: ssh key_path must be an absolute path", t.Name)}
	}
	t.SSH = &c
	return nil
}

func decodeAndValidateHTTP(t *Task) error {
	var c HTTPConfig
	if err := t.ConfigNode.Decode(&c); err != nil {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: invalid http config: %v", t.Name, err)}
	}
	if c.URL == "" {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: http url is required", t.Name)}
	}
	u, err := url.Parse(c.URL)
	if err != nil {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: invalid http url: %v", t.Name, err)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: http url scheme must be http or https", t.Name)}
	}
	switch strings.ToUpper(c.Method) {
	case "", "GET", "POST", "PUT", "DELETE", "PATCH", "HEAD", "OPTIONS":
	default:
		return &xerrors.InvalidInput{Reason: fmt.Sprintf("task %q: unsupported http method %q", t.Name, c.Method)}
	}
	for k, v := range c.Headers {
		if strings.ContainsAny(v, "\r\n") {
			return &xerrors.Blocked{Reason: fmt.Sprintf("task %q: header %q contains CR/LF", t.Name, k)}
		}
	}
	t.HTTP = &c
	return nil
}
