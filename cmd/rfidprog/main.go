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

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	rfidprog "github.com/ZaparooProject/go-rfidprog"
	"github.com/ZaparooProject/go-rfidprog/certs"
	"github.com/ZaparooProject/go-rfidprog/detection"
	"github.com/ZaparooProject/go-rfidprog/polling"
	"github.com/ZaparooProject/go-rfidprog/server"
	"github.com/ZaparooProject/go-rfidprog/transport/uart"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

type config struct {
	port         *string
	parity       *string
	stopBits     *string
	writeText    *string
	raw          *string
	accessFile   *string
	changeAccess *string
	serve        *string
	secret       *string
	tlsDir       *string
	baud         *int
	dataBits     *int
	erase        *int
	timeout      *time.Duration
	list         *bool
	read         *bool
	checkKeys    *bool
	readAccess   *bool
	keepTail     *bool
	watch        *bool
	reconnect    *bool
	mdns         *bool
	tls          *bool
	verbose      *bool
	debug        *bool
}

func parseFlags() *config {
	cfg := &config{
		port: flag.String("port", "",
			"Serial port of the programmer (e.g., /dev/ttyACM0 or COM3). Leave empty for auto-detection."),
		baud:     flag.Int("baud", 38400, "Baud rate"),
		dataBits: flag.Int("databits", 8, "Data bits (5-8)"),
		parity:   flag.String("parity", "none", "Parity: none, even, odd, mark or space"),
		stopBits: flag.String("stopbits", "1", "Stop bits: 1, 1.5 or 2"),
		timeout:  flag.Duration("timeout", 30*time.Second, "Timeout for connecting, card detection and the operation"),
		list:     flag.Bool("list", false, "List serial ports and exit"),
		read:     flag.Bool("read", false, "Read the card content"),
		writeText: flag.String("write", "",
			"Text to write to the card from offset 0"),
		keepTail: flag.Bool("keep-tail", false, "Keep the previous content after the written text"),
		erase:    flag.Int("erase", -1, "Erase the card content from this offset"),
		raw:      flag.String("raw", "", "Send a raw command line to the programmer"),
		checkKeys: flag.Bool("check-keys", false,
			"Check that every sector trailer matches the current keys"),
		readAccess: flag.Bool("read-access", false, "Read the access bits of every sector"),
		accessFile: flag.String("access-file", "",
			"JSON file with keyA, keyB, accessBits and selectedKey to use for the operation"),
		changeAccess: flag.String("change-access", "",
			"JSON file with the keys and access bits to write to every sector trailer"),
		watch: flag.Bool("watch", false,
			"Keep running and report every card placed on the reader"),
		reconnect: flag.Bool("reconnect", false, "Reopen the port when the connection is lost (with -watch)"),
		serve:   flag.String("serve", "", "Serve the programmer over websocket on this address (e.g., :18670)"),
		secret:  flag.String("secret", "", "Secret websocket clients must pass as ?secret="),
		mdns:    flag.Bool("mdns", false, "Advertise the websocket server over mDNS"),
		tls:     flag.Bool("tls", false, "Serve over TLS with a locally trusted certificate"),
		tlsDir: flag.String("tls-dir", "",
			"Directory for the CA and server certificate (default: user config dir)"),
		verbose: flag.Bool("verbose", false, "Print device output"),
		debug:   flag.Bool("debug", false, "Enable debug output"),
	}
	flag.Parse()

	if *cfg.debug {
		rfidprog.SetDebugEnabled(true)
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	return cfg
}

func (c *config) portConfig(port string) (rfidprog.PortConfig, error) {
	parity, err := rfidprog.ParseParity(*c.parity)
	if err != nil {
		return rfidprog.PortConfig{}, err
	}
	stopBits, err := rfidprog.ParseStopBits(*c.stopBits)
	if err != nil {
		return rfidprog.PortConfig{}, err
	}
	pc := rfidprog.PortConfig{
		Port:     port,
		BaudRate: *c.baud,
		DataBits: *c.dataBits,
		Parity:   parity,
		StopBits: stopBits,
	}
	if err := pc.Validate(); err != nil {
		return rfidprog.PortConfig{}, fmt.Errorf("invalid port settings: %w", err)
	}
	return pc, nil
}

func listPorts() error {
	ports, err := detection.ListPorts(detection.DefaultOptions())
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		_, _ = fmt.Println("No serial ports found")
		return nil
	}
	for _, p := range ports {
		marker := " "
		if p.Likely() {
			marker = "*"
		}
		_, _ = fmt.Printf("%s %s\n", marker, p)
	}
	return nil
}

func selectPort(cfg *config) (string, error) {
	if *cfg.port != "" {
		return *cfg.port, nil
	}
	names, err := detection.PortNames(detection.DefaultOptions())
	if err != nil {
		return "", fmt.Errorf("failed to detect ports: %w", err)
	}
	if len(names) == 0 {
		return "", errors.New("no serial ports found, use -port")
	}
	_, _ = fmt.Printf("Auto-detected port: %s\n", names[0])
	return names[0], nil
}

// results collects command outcomes published by the programmer.
type results struct {
	list []rfidprog.CommandResult
	mu   sync.Mutex
}

func (r *results) add(res rfidprog.CommandResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.list = append(r.list, res)
}

func (r *results) last() (rfidprog.CommandResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.list) == 0 {
		return rfidprog.CommandResult{}, false
	}
	return r.list[len(r.list)-1], true
}

func connect(cfg *config, res *results) (*rfidprog.Programmer, error) {
	port, err := selectPort(cfg)
	if err != nil {
		return nil, err
	}
	pc, err := cfg.portConfig(port)
	if err != nil {
		return nil, err
	}

	observer := rfidprog.Observer{OnCommandDone: res.add}
	if *cfg.verbose {
		observer.OnOutput = func(ev rfidprog.OutputEvent) {
			_, _ = fmt.Printf("[%s] %s\n", ev.Kind, strings.TrimRight(ev.Text, "\n"))
		}
	}

	prog, err := rfidprog.New(
		rfidprog.WithTransportFactory(uart.Open),
		rfidprog.WithPortLister(detection.Lister(detection.DefaultOptions())),
		rfidprog.WithObserver(observer),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create programmer: %w", err)
	}

	_, _ = fmt.Printf("Opening %s\n", pc)
	if err := prog.SwitchPort(pc); err != nil {
		return nil, fmt.Errorf("failed to open port: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *cfg.timeout)
	defer cancel()
	if err := prog.WaitForState(ctx, rfidprog.StateConnected); err != nil {
		_ = prog.Close()
		return nil, fmt.Errorf("programmer did not report ready: %w", err)
	}
	_, _ = fmt.Println("Programmer ready")
	return prog, nil
}

func loadAccess(path string) (rfidprog.Access, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return rfidprog.Access{}, fmt.Errorf("failed to read access file: %w", err)
	}
	var a rfidprog.Access
	if err := json.Unmarshal(data, &a); err != nil {
		return rfidprog.Access{}, err
	}
	return a, nil
}

func waitForCard(ctx context.Context, prog *rfidprog.Programmer) (*rfidprog.Card, error) {
	if card := prog.Card(); card != nil {
		return card, nil
	}
	_, _ = fmt.Println("Waiting for card...")
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("no card detected: %w", ctx.Err())
		case <-ticker.C:
			if card := prog.Card(); card != nil {
				return card, nil
			}
		}
	}
}

// runOperation queues op and waits for the programmer to finish it.
func runOperation(ctx context.Context, prog *rfidprog.Programmer, res *results,
	name string, op func() error,
) (rfidprog.CommandResult, error) {
	if err := op(); err != nil {
		return rfidprog.CommandResult{}, fmt.Errorf("%s: %w", name, err)
	}
	if err := prog.WaitIdle(ctx); err != nil {
		return rfidprog.CommandResult{}, fmt.Errorf("%s: %w", name, err)
	}
	last, ok := res.last()
	if !ok {
		return rfidprog.CommandResult{}, fmt.Errorf("%s: no result", name)
	}
	if last.Err != nil {
		return last, fmt.Errorf("%s: %w", name, last.Err)
	}
	return last, nil
}

func printContent(data []byte) {
	_, _ = fmt.Printf("Content (%d bytes)\n", len(data))
	_, _ = fmt.Print(hex.Dump(data))
}

func runCardOperations(ctx context.Context, cfg *config, prog *rfidprog.Programmer, res *results) error {
	card, err := waitForCard(ctx, prog)
	if err != nil {
		return err
	}
	_, _ = fmt.Printf("Card: %s\n", card.IDHex())

	steps := []struct {
		run  func() error
		show func(rfidprog.CommandResult)
		name string
		on   bool
	}{
		{
			name: "use keys",
			on:   *cfg.accessFile != "",
			run: func() error {
				a, loadErr := loadAccess(*cfg.accessFile)
				if loadErr != nil {
					return loadErr
				}
				return prog.UseKeys(a.KeyA[:], a.KeyB[:], a.AccessBits[:], a.SelectedKey)
			},
		},
		{
			name: "change keys",
			on:   *cfg.changeAccess != "",
			run: func() error {
				a, loadErr := loadAccess(*cfg.changeAccess)
				if loadErr != nil {
					return loadErr
				}
				return prog.ChangeKeys(a.KeyA[:], a.KeyB[:], a.AccessBits[:], a.SelectedKey)
			},
		},
		{
			name: "erase",
			on:   *cfg.erase >= 0,
			run:  func() error { return prog.EraseContent(uint(*cfg.erase)) }, //nolint:gosec // checked above
		},
		{
			name: "write",
			on:   *cfg.writeText != "",
			run: func() error {
				return prog.WriteContent([]byte(*cfg.writeText), 0, !*cfg.keepTail, false)
			},
		},
		{
			name: "read",
			on:   *cfg.read,
			run:  func() error { return prog.ReadContent(0, 0) },
			show: func(r rfidprog.CommandResult) { printContent(r.Data) },
		},
		{
			name: "check keys",
			on:   *cfg.checkKeys,
			run:  prog.CheckKeys,
		},
		{
			name: "read access bits",
			on:   *cfg.readAccess,
			run:  prog.ReadAccessBits,
			show: func(rfidprog.CommandResult) {
				if a := prog.Access(); a != nil {
					_, _ = fmt.Printf("Access bits: %s\n", strings.ToUpper(hex.EncodeToString(a.AccessBits[:])))
				}
			},
		},
		{
			name: "raw command",
			on:   *cfg.raw != "",
			run:  func() error { return prog.SendCustomCommand(*cfg.raw) },
		},
	}

	for _, step := range steps {
		if !step.on {
			continue
		}
		r, err := runOperation(ctx, prog, res, step.name, step.run)
		if err != nil {
			return err
		}
		_, _ = fmt.Printf("%s: ok\n", step.name)
		if step.show != nil {
			step.show(r)
		}
	}
	return nil
}

func serve(ctx context.Context, cfg *config, prog *rfidprog.Programmer) error {
	srvCfg := server.DefaultConfig()
	host, port, err := splitAddr(*cfg.serve, srvCfg.Port)
	if err != nil {
		return err
	}
	srvCfg.Host = host
	srvCfg.Port = port
	srvCfg.MDNS = *cfg.mdns
	srvCfg.Secret = *cfg.secret
	if *cfg.tls {
		dir, err := tlsDir(*cfg.tlsDir)
		if err != nil {
			return err
		}
		certFile, keyFile, err := certs.NewManager(dir).EnsureCertificates()
		if err != nil {
			return fmt.Errorf("failed to prepare TLS certificates: %w", err)
		}
		srvCfg.CertFile = certFile
		srvCfg.KeyFile = keyFile
	}

	srv := server.New(prog, srvCfg)
	defer srv.Close()
	return srv.ListenAndServe(ctx)
}

func tlsDir(dir string) (string, error) {
	if dir != "" {
		return dir, nil
	}
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to find config directory: %w", err)
	}
	return filepath.Join(base, "rfidprog"), nil
}

func watch(ctx context.Context, cfg *config, prog *rfidprog.Programmer) error {
	sessCfg := polling.DefaultConfig()
	sessCfg.Reconnect = *cfg.reconnect
	pc, err := cfg.portConfig(prog.CurrentPort())
	if err != nil {
		return err
	}
	sessCfg.Port = pc

	session := polling.NewSession(prog, sessCfg)
	session.OnCardDetected = func(card *rfidprog.Card) error {
		_, _ = fmt.Printf("Card placed: %s\n", card.IDHex())
		return nil
	}
	session.OnCardRead = func(card *rfidprog.Card) error {
		content, _ := card.Content()
		printContent(content)
		return nil
	}
	session.OnCardRemoved = func() {
		_, _ = fmt.Println("Card removed - ready for next card...")
	}
	session.OnError = func(err error) {
		log.Warn().Err(err).Msg("card session")
	}

	_, _ = fmt.Println("Watching for cards (Ctrl+C to stop)...")
	err = session.Start(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// runBackground runs the websocket server and the card watcher until ctx
// ends or one of them fails.
func runBackground(ctx context.Context, cfg *config, prog *rfidprog.Programmer) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var tasks []func(context.Context) error
	if *cfg.watch {
		tasks = append(tasks, func(ctx context.Context) error { return watch(ctx, cfg, prog) })
	}
	if *cfg.serve != "" {
		tasks = append(tasks, func(ctx context.Context) error { return serve(ctx, cfg, prog) })
	}

	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		go func() {
			err := task(ctx)
			cancel()
			errCh <- err
		}()
	}

	var first error
	for range tasks {
		if err := <-errCh; err != nil && first == nil {
			first = err
		}
	}
	return first
}

func hasCardOperation(cfg *config) bool {
	return *cfg.read || *cfg.writeText != "" || *cfg.erase >= 0 || *cfg.raw != "" ||
		*cfg.checkKeys || *cfg.readAccess || *cfg.changeAccess != ""
}

func run(cfg *config) error {
	if *cfg.list {
		return listPorts()
	}
	background := *cfg.serve != "" || *cfg.watch
	if !hasCardOperation(cfg) && !background {
		flag.Usage()
		return errors.New("nothing to do")
	}

	res := &results{}
	prog, err := connect(cfg, res)
	if err != nil {
		return err
	}
	defer func() { _ = prog.Close() }()

	if hasCardOperation(cfg) {
		ctx, cancel := context.WithTimeout(context.Background(), *cfg.timeout)
		defer cancel()
		if err := runCardOperations(ctx, cfg, prog, res); err != nil {
			return err
		}
	}

	if background {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return runBackground(ctx, cfg, prog)
	}
	return nil
}

func main() {
	cfg := parseFlags()
	if err := run(cfg); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
