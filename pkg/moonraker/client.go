// Package moonraker is a client for the Moonraker printer API: file
// upload over HTTP, print start, and print monitoring over the
// JSON-RPC websocket.
//
// Copyright (C) 2026  Gcodepost Authors
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package moonraker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gcodepost/pkg/errors"
	"gcodepost/pkg/log"
)

// Config holds client configuration.
type Config struct {
	// Address is the Moonraker host, with or without scheme
	// (e.g., "printer.local:7125", "http://10.0.0.5:7125").
	Address string

	// APIKey is sent as X-Api-Key when set.
	APIKey string

	// Timeout bounds each short request (info, print start) and the
	// wait for upload response headers. Zero means 30 seconds. Upload
	// bodies are not bounded by it, only by the request context, so a
	// slow transfer that keeps moving is never cut off.
	Timeout time.Duration
}

// Client talks to one Moonraker instance.
type Client struct {
	baseURL *url.URL
	apiKey  string
	http    *http.Client
	upload  *http.Client
}

// New creates a client for the given address.
func New(cfg Config) (*Client, error) {
	addr := cfg.Address
	if addr == "" {
		return nil, errors.MoonrakerError("configure", fmt.Errorf("address is empty"))
	}
	if !strings.Contains(addr, "://") {
		addr = "http://" + addr
	}
	u, err := url.Parse(addr)
	if err != nil {
		return nil, errors.MoonrakerError("configure", err)
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	transport := &http.Transport{
		DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: timeout,
	}
	return &Client{
		baseURL: u,
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: timeout, Transport: transport},
		// No Client.Timeout here: it would count streaming the
		// multipart body against the deadline and abort large uploads
		// mid-transfer. The transport still bounds dial, TLS and the
		// response-header wait.
		upload: &http.Client{Transport: transport},
	}, nil
}

// ServerInfo is the subset of /server/info the client reports.
type ServerInfo struct {
	KlippyConnected bool   `json:"klippy_connected"`
	KlippyState     string `json:"klippy_state"`
	APIVersion      []int  `json:"api_version"`
}

// Info queries /server/info.
func (c *Client) Info(ctx context.Context) (*ServerInfo, error) {
	var resp struct {
		Result ServerInfo `json:"result"`
	}
	if err := c.getJSON(ctx, "/server/info", &resp); err != nil {
		return nil, err
	}
	return &resp.Result, nil
}

// Upload sends a local file to the printer's gcodes root. remoteName
// may include subdirectories; empty means the local base name. When
// startPrint is set Moonraker queues the file for printing as soon as
// the upload lands.
func (c *Client) Upload(ctx context.Context, localPath, remoteName string, startPrint bool) error {
	if remoteName == "" {
		remoteName = filepath.Base(localPath)
	}

	f, err := os.Open(localPath)
	if err != nil {
		return errors.MoonrakerError("upload", err)
	}
	defer f.Close()

	// Moonraker caps uploads by available disk, not memory, but the
	// multipart body is built through a pipe so large files stream.
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		var werr error
		defer func() { pw.CloseWithError(werr) }()
		if werr = mw.WriteField("root", "gcodes"); werr != nil {
			return
		}
		if startPrint {
			if werr = mw.WriteField("print", "true"); werr != nil {
				return
			}
		}
		var part io.Writer
		if part, werr = mw.CreateFormFile("file", remoteName); werr != nil {
			return
		}
		if _, werr = io.Copy(part, f); werr != nil {
			return
		}
		werr = mw.Close()
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.endpoint("/server/files/upload"), pr)
	if err != nil {
		return errors.MoonrakerError("upload", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	c.auth(req)

	resp, err := c.upload.Do(req)
	if err != nil {
		return errors.MoonrakerError("upload", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return errors.MoonrakerError("upload", httpError(resp))
	}

	log.Info("uploaded %s to %s", remoteName, c.baseURL.Host)
	return nil
}

// StartPrint asks the printer to start printing an already-uploaded
// file.
func (c *Client) StartPrint(ctx context.Context, filename string) error {
	u := c.endpoint("/printer/print/start") + "?filename=" + url.QueryEscape(filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return errors.MoonrakerError("start print", err)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.MoonrakerError("start print", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.MoonrakerError("start print", httpError(resp))
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(path), nil)
	if err != nil {
		return errors.MoonrakerError("request", err)
	}
	c.auth(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.MoonrakerError("request", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.MoonrakerError("request", httpError(resp))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.MoonrakerError("decode", err)
	}
	return nil
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

func (c *Client) auth(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-Api-Key", c.apiKey)
	}
}

func httpError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	msg := string(bytes.TrimSpace(body))
	if msg == "" {
		return fmt.Errorf("%s", resp.Status)
	}
	return fmt.Errorf("%s: %s", resp.Status, msg)
}
