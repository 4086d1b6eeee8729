// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/regmonitor/admin"
	"github.com/bureau-foundation/regmonitor/hook"
	"github.com/bureau-foundation/regmonitor/lib/process"
	"github.com/bureau-foundation/regmonitor/lib/ref"
	"github.com/bureau-foundation/regmonitor/lib/sealed"
	"github.com/bureau-foundation/regmonitor/lib/secret"
	"github.com/bureau-foundation/regmonitor/lib/service"
	"github.com/bureau-foundation/regmonitor/lib/version"
	"github.com/bureau-foundation/regmonitor/reactor"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	if err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			os.Exit(exit.code)
		}
		process.Fatal(err)
	}
}

// exitError ends the process with code and no error message. The
// command has already written its output.
type exitError struct {
	code int
}

func (e *exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

type options struct {
	configPath  string
	listen      string
	logLevel    string
	recipients  []string
	showVersion bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	var opts options
	flagSet := pflag.NewFlagSet("regmonitor", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVar(&opts.configPath, "config", "", "path to the config file (default: $REGMONITOR_CONFIG)")
	flagSet.StringVar(&opts.listen, "listen", "", "override listen_address from the config file")
	flagSet.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, or error")
	flagSet.StringArrayVar(&opts.recipients, "recipient", nil, "age public key to seal to (seal command, repeatable)")
	flagSet.BoolVar(&opts.showVersion, "version", false, "print version information and exit")
	flagSet.Usage = func() { printUsage(stderr, flagSet) }

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if opts.showVersion {
		version.Print(stdout, "regmonitor")
		return nil
	}

	level, err := parseLevel(opts.logLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stderr, level)

	command := "serve"
	rest := flagSet.Args()
	if len(rest) > 0 {
		command, rest = rest[0], rest[1:]
	}

	switch command {
	case "serve":
		if len(rest) != 0 {
			return fmt.Errorf("serve takes no arguments, got %q", rest)
		}
		return serve(ctx, opts, logger)
	case "react":
		if len(rest) != 1 {
			return fmt.Errorf("usage: regmonitor react <user_id>")
		}
		return react(ctx, opts, rest[0], stdout, logger)
	case "keygen":
		if len(rest) != 1 {
			return fmt.Errorf("usage: regmonitor keygen <identity-file>")
		}
		return keygen(rest[0], stdout)
	case "seal":
		if len(rest) != 0 {
			return fmt.Errorf("seal reads the token from stdin and takes no arguments")
		}
		return seal(stdin, stdout, opts.recipients)
	default:
		return fmt.Errorf("unknown command %q (want serve, react, keygen, or seal)", command)
	}
}

func serve(ctx context.Context, opts options, logger *slog.Logger) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer cfg.Close()

	built, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}

	hookConfig := hook.Config{
		Reactor: built.reactor,
		Logger:  logger.With("component", "hook"),
	}
	if built.attempts != nil {
		hookConfig.Attempts = built.attempts
	}
	if cfg.HookSecretFile != "" {
		hookSecret, err := secret.ReadFile(cfg.HookSecretFile)
		if err != nil {
			return fmt.Errorf("reading hook_secret_file: %w", err)
		}
		defer hookSecret.Close()
		hookConfig.Secret = hookSecret
	} else {
		logger.Warn("hook_secret_file not set, hook requests are not authenticated")
	}

	// A failed probe is not fatal: the homeserver may start after us,
	// and each event reports its own admin failures.
	if serverVersion, err := built.client.ServerVersion(ctx); admin.IsAPIError(err, admin.ErrCodeUnknownToken) {
		logger.Error("admin token rejected by homeserver", "homeserver_url", cfg.HomeserverURL, "error", err)
	} else if err != nil {
		logger.Warn("admin API probe failed", "homeserver_url", cfg.HomeserverURL, "error", err)
	} else {
		logger.Info("admin API reachable", "homeserver_url", cfg.HomeserverURL, "server_version", serverVersion)
	}

	address := cfg.ListenAddress
	if opts.listen != "" {
		address = opts.listen
	}
	httpServer := service.NewServer(service.ServerConfig{
		Address:      address,
		Handler:      hook.New(hookConfig),
		WriteTimeout: 2*cfg.RequestTimeout + service.DefaultShutdownTimeout,
		Logger:       logger,
	})

	serveDone := make(chan error, 1)
	go func() {
		serveDone <- httpServer.Serve(ctx)
	}()

	select {
	case <-httpServer.Ready():
	case err := <-serveDone:
		return err
	}

	logger.Info("regmonitor running",
		"version", version.Info(),
		"address", httpServer.Addr().String(),
		"notification_room", cfg.NotificationRoom,
		"suspend_users", cfg.SuspendUsers,
		"force_join_room", cfg.ForceJoinRoom,
		"admin", built.client,
	)

	return <-serveDone
}

func react(ctx context.Context, opts options, rawUserID string, stdout io.Writer, logger *slog.Logger) error {
	userID, err := ref.ParseUserID(rawUserID)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	defer cfg.Close()

	built, err := buildComponents(cfg, logger)
	if err != nil {
		return err
	}

	result := built.reactor.OnRegister(ctx, userID)

	encoder := json.NewEncoder(stdout)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(result); err != nil {
		return fmt.Errorf("writing result: %w", err)
	}
	if result.Status != reactor.StatusSuccess {
		return &exitError{code: 1}
	}
	return nil
}

func keygen(identityPath string, stdout io.Writer) error {
	privateKey, publicKey, err := sealed.GenerateIdentity()
	if err != nil {
		return err
	}
	defer privateKey.Close()

	file, err := os.OpenFile(identityPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return fmt.Errorf("creating identity file: %w", err)
	}
	if _, err := file.Write(append(privateKey.Bytes(), '\n')); err != nil {
		file.Close()
		return fmt.Errorf("writing identity file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("closing identity file: %w", err)
	}

	fmt.Fprintln(stdout, publicKey)
	return nil
}

func seal(stdin io.Reader, stdout io.Writer, recipients []string) error {
	if len(recipients) == 0 {
		return fmt.Errorf("seal requires at least one --recipient")
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("reading token from stdin: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return fmt.Errorf("no token on stdin")
	}
	token, err := secret.NewFromString(line)
	if err != nil {
		return fmt.Errorf("protecting token: %w", err)
	}
	defer token.Close()

	ciphertext, err := sealed.Seal(token.Bytes(), recipients)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, ciphertext)
	return nil
}

func printUsage(output io.Writer, flagSet *pflag.FlagSet) {
	fmt.Fprintf(output, `regmonitor suspends new Matrix accounts and joins them to a notification room.

Usage:
  regmonitor [flags] [serve]           run the registration hook listener
  regmonitor [flags] react <user_id>   handle one registration and exit
  regmonitor keygen <identity-file>    create an age identity for sealed tokens
  regmonitor seal --recipient <key>    seal the admin token read from stdin

Flags:
%s`, flagSet.FlagUsages())
}
