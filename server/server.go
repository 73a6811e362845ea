// go-rfidprog
// Copyright (c) 2025 The Zaparoo Project Contributors.
// SPDX-License-Identifier: LGPL-3.0-or-later
//
// This file is part of go-rfidprog.
//
// go-rfidprog is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; either
// version 3 of the License, or (at your option) any later version.
//
// go-rfidprog is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with go-rfidprog; if not, write to the Free Software Foundation,
// Inc., 51 Franklin Street, Fifth Floor, Boston, MA  02110-1301, USA.

// Package server exposes a programmer to network clients over a websocket
// and optionally advertises itself with mDNS.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/grandcat/zeroconf"
	"github.com/rs/zerolog/log"
)

// Controller is the part of the programmer the server drives.
// *rfidprog.Programmer implements it.
type Controller interface {
	State() rfidprog.State
	CurrentPort() string
	Card() *rfidprog.Card
	Access() *rfidprog.Access
	Output() string
	Observe(o rfidprog.Observer) (cancel func())

	ReadContent(start, length uint) error
	WriteContent(content []byte, start uint, ignorePreviousEnd, ignoreEndMarker bool) error
	EraseContent(start uint) error
	ResetAccessAndKeys() error
	UseKeys(keyA, keyB, accessBits []byte, sel rfidprog.SelectedKey) error
	ChangeKeys(keyA, keyB, accessBits []byte, sel rfidprog.SelectedKey) error
	CheckKeys() error
	ReadAccessBits() error
	SendCustomCommand(text string) error
}

// Server bridges programmer events and requests to websocket clients
type Server struct {
	ctrl      Controller
	clients   map[*client]struct{}
	mdns      *zeroconf.Server
	unobserve func()
	upgrader  websocket.Upgrader
	config    Config
	clientsMu sync.RWMutex
	mu        sync.Mutex
}

// New creates a server for ctrl and subscribes to its events. Call Close to
// unsubscribe.
func New(ctrl Controller, config Config) *Server {
	s := &Server{
		ctrl:    ctrl,
		config:  config,
		clients: make(map[*client]struct{}),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	s.unobserve = ctrl.Observe(rfidprog.Observer{
		OnStateChanged: func(st rfidprog.State) {
			s.broadcast(TypeState, statePayload(st, ctrl.CurrentPort()))
		},
		OnCardChanged: func(c *rfidprog.Card) {
			s.broadcast(TypeCard, c)
		},
		OnAccessChanged: func(a *rfidprog.Access) {
			s.broadcast(TypeAccess, a)
		},
		OnOutput: func(ev rfidprog.OutputEvent) {
			s.broadcast(TypeOutput, ev)
		},
		OnCommandDone: func(res rfidprog.CommandResult) {
			s.broadcast(TypeCommandDone, commandDonePayload(res))
		},
	})
	return s
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr())
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if s.config.MDNS {
		port := s.config.Port
		if addr, ok := ln.Addr().(*net.TCPAddr); ok {
			port = addr.Port
		}
		if err := s.startMDNS(port); err != nil {
			log.Warn().Err(err).Msg("mDNS advertisement disabled")
		}
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Bool("tls", s.config.TLS()).Msg("server listening")
		if s.config.TLS() {
			errCh <- srv.ServeTLS(ln, s.config.CertFile, s.config.KeyFile)
			return
		}
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		s.stopMDNS()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	s.stopMDNS()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// Close unsubscribes from the programmer and disconnects every client.
func (s *Server) Close() {
	s.mu.Lock()
	unobserve := s.unobserve
	s.unobserve = nil
	s.mu.Unlock()
	if unobserve != nil {
		unobserve()
	}

	s.clientsMu.RLock()
	for c := range s.clients {
		_ = c.conn.Close()
	}
	s.clientsMu.RUnlock()
	s.stopMDNS()
}

func (s *Server) startMDNS(port int) error {
	txt := []string{
		"version=1",
		"protocol=websocket",
		"path=/ws",
	}
	srv, err := zeroconf.Register(s.config.ServiceName, MDNSServiceType, MDNSDomain, port, txt, nil)
	if err != nil {
		return fmt.Errorf("failed to register mDNS service: %w", err)
	}
	s.mu.Lock()
	s.mdns = srv
	s.mu.Unlock()
	log.Info().Str("service", s.config.ServiceName).Int("port", port).Msg("mDNS service registered")
	return nil
}

func (s *Server) stopMDNS() {
	s.mu.Lock()
	srv := s.mdns
	s.mdns = nil
	s.mu.Unlock()
	if srv != nil {
		srv.Shutdown()
	}
}

// ClientCount returns the number of connected websocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	state := s.ctrl.State()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"status":      "ok",
		"port":        s.ctrl.CurrentPort(),
		"state":       state,
		"description": state.Description(),
		"cardPresent": s.ctrl.Card() != nil,
		"clients":     s.ClientCount(),
		"timestamp":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.config.Secret != "" && r.URL.Query().Get("secret") != s.config.Secret {
		log.Warn().Str("remote", r.RemoteAddr).Msg("websocket rejected: invalid secret")
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := newClient(uuid.New().String(), conn, s.config.SendBuffer)
	go c.writePump(s.config.WriteTimeout)

	s.sendSnapshot(c)
	s.register(c)
	log.Info().Str("client", c.id).Int("clients", s.ClientCount()).Msg("client connected")

	defer func() {
		s.unregister(c)
		_ = conn.Close()
		log.Info().Str("client", c.id).Int("clients", s.ClientCount()).Msg("client disconnected")
	}()

	conn.SetReadLimit(s.config.MaxMessageSize)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug().Err(err).Str("client", c.id).Msg("websocket read error")
			}
			return
		}
		s.handleRequest(c, data)
	}
}

func (s *Server) sendSnapshot(c *client) {
	c.push(TypeState, statePayload(s.ctrl.State(), s.ctrl.CurrentPort()))
	c.push(TypeCard, s.ctrl.Card())
	c.push(TypeAccess, s.ctrl.Access())
	c.push(TypeOutput, OutputPayload{Text: s.ctrl.Output()})
}

func (s *Server) register(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) unregister(c *client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[c]; ok {
		delete(s.clients, c)
		c.close()
	}
}

// broadcast runs on the programmer worker and never blocks.
func (s *Server) broadcast(msgType string, payload any) {
	data, err := encode(msgType, payload)
	if err != nil {
		log.Error().Err(err).Msg("broadcast failed")
		return
	}

	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	for c := range s.clients {
		c.send(data)
	}
}

func (s *Server) handleRequest(c *client, data []byte) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		c.push(TypeResponse, ResponsePayload{Error: "invalid message format"})
		return
	}

	resp := ResponsePayload{ID: req.ID, Success: true}
	if err := s.dispatch(req); err != nil {
		resp.Success = false
		resp.Error = err.Error()
		resp.Kind = rfidprog.KindOf(err).String()
		log.Debug().Err(err).Str("client", c.id).Str("type", req.Type).Msg("request rejected")
	}
	c.push(TypeResponse, resp)
}

// ErrUnknownRequest is returned for unsupported request types.
var ErrUnknownRequest = errors.New("unknown request type")

func (s *Server) dispatch(req Request) error {
	switch req.Type {
	case RequestReadContent:
		var p ContentPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return err
		}
		return s.ctrl.ReadContent(p.Start, p.Length)
	case RequestWriteContent:
		var p WritePayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return err
		}
		content, err := p.bytes()
		if err != nil {
			return err
		}
		return s.ctrl.WriteContent(content, p.Start, p.ignorePreviousEnd(), p.IgnoreEndMarker)
	case RequestEraseContent:
		var p ContentPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return err
		}
		return s.ctrl.EraseContent(p.Start)
	case RequestResetKeys:
		return s.ctrl.ResetAccessAndKeys()
	case RequestUseKeys, RequestChangeKeys:
		var a rfidprog.Access
		if len(req.Payload) == 0 {
			return fmt.Errorf("%s: missing access payload", req.Type)
		}
		if err := json.Unmarshal(req.Payload, &a); err != nil {
			return err
		}
		if req.Type == RequestUseKeys {
			return s.ctrl.UseKeys(a.KeyA[:], a.KeyB[:], a.AccessBits[:], a.SelectedKey)
		}
		return s.ctrl.ChangeKeys(a.KeyA[:], a.KeyB[:], a.AccessBits[:], a.SelectedKey)
	case RequestCheckKeys:
		return s.ctrl.CheckKeys()
	case RequestReadAccessBits:
		return s.ctrl.ReadAccessBits()
	case RequestCustom:
		var p CustomPayload
		if err := decodePayload(req.Payload, &p); err != nil {
			return err
		}
		return s.ctrl.SendCustomCommand(p.Text)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownRequest, req.Type)
	}
}

// Addr returns the listen address of the configuration.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
