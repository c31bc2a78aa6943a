package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"visitorid/go-backend/internal/auth"
	"visitorid/go-backend/internal/config"
	"visitorid/go-backend/internal/contracts"
	"visitorid/go-backend/internal/cookie"
	"visitorid/go-backend/internal/identity"
	"visitorid/go-backend/internal/kvstore"
	"visitorid/go-backend/internal/principal"
	"visitorid/go-backend/pkg/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"
)

const (
	exitOK           = 0
	exitInvalidInput = 10
	exitStorage      = 20
	exitRejected     = 30
	exitInternal     = 40
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type cli struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
	now    func() time.Time
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	c := &cli{stdin: stdin, stdout: stdout, stderr: stderr, now: time.Now}
	return c.dispatch(ctx, args)
}

func (c *cli) dispatch(ctx context.Context, args []string) int {
	if len(args) < 1 {
		c.printUsage()
		return exitInvalidInput
	}
	switch args[0] {
	case "issue":
		return c.runIssue(ctx, args[1:])
	case "verify":
		return c.runVerify(args[1:])
	case "metadata-get":
		return c.runMetadataGet(ctx, args[1:])
	case "metadata-set":
		return c.runMetadataSet(ctx, args[1:])
	case "version":
		c.printf("identityctl version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return exitOK
	default:
		c.printUsage()
		return exitInvalidInput
	}
}

func (c *cli) printUsage() {
	c.errorf("usage: identityctl <issue|verify|metadata-get|metadata-set|version> [flags]")
}

// environment is everything a subcommand needs that comes from config.
type environment struct {
	logger  *slog.Logger
	kv      kvstore.Store
	closeKV func() error
	key     cookie.Key
	svc     *auth.Service
}

func (c *cli) openEnvironment(configPath string) (*environment, int) {
	cfg, err := config.Load(configPath)
	if err != nil {
		c.errorf("load config: %v", err)
		return nil, exitInvalidInput
	}
	logger := cfg.Log.NewLogger(c.stderr)
	secret, err := cfg.CookieMasterSecret()
	if err != nil {
		c.errorf("cookie secret: %v", err)
		return nil, exitInvalidInput
	}
	key, err := cookie.DeriveKey(secret)
	if err != nil {
		c.errorf("cookie key: %v", err)
		return nil, exitInvalidInput
	}
	kv, closeKV, err := kvstore.Open(cfg.StorageOptions(logger))
	if err != nil {
		c.errorf("open storage: %v", err)
		return nil, exitStorage
	}
	metrics, err := auth.NewMetrics(prometheus.NewRegistry())
	if err != nil {
		_ = closeKV()
		c.errorf("metrics: %v", err)
		return nil, exitInternal
	}
	svc := auth.NewService(auth.ServiceConfig{
		Options: auth.OptionsFromConfig(cfg),
		Logger:  logger,
		Metrics: metrics,
		Limiter: cfg.Throttle.Limiter(),
		Now:     c.now,
	})
	return &environment{logger: logger, kv: kv, closeKV: closeKV, key: key, svc: svc}, exitOK
}

func (e *environment) close() {
	if err := e.closeKV(); err != nil {
		e.logger.Warn("close storage", "error", err.Error())
	}
}

type issueOutput struct {
	Wire      models.DelegatedIdentityWire `json:"wire"`
	SetCookie []string                     `json:"set_cookie"`
}

func (c *cli) runIssue(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("issue", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	cookieHeader := fs.String("cookie", "", "Cookie header of the inbound request")
	clientKey := fs.String("client", "", "client key used for generation throttling")
	format := fs.String("format", "json", "output format: json | cbor")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	if *format != "json" && *format != "cbor" {
		c.errorf("unknown format %q", *format)
		return exitInvalidInput
	}

	env, code := c.openEnvironment(*configPath)
	if env == nil {
		return code
	}
	defer env.close()

	reqHeader := http.Header{}
	if v := strings.TrimSpace(*cookieHeader); v != "" {
		reqHeader.Set("Cookie", v)
	}
	respHeader := http.Header{}
	wire, err := env.svc.ExtractOrGenerateIdentity(ctx, env.kv, env.key, auth.Request{Header: reqHeader, ClientKey: *clientKey}, respHeader)
	if err != nil {
		c.errorf("issue identity: %v", err)
		return exitCodeFor(err)
	}

	if *format == "cbor" {
		raw, err := models.EncodeWireCBOR(wire)
		if err != nil {
			c.errorf("encode cbor: %v", err)
			return exitInternal
		}
		for _, line := range respHeader.Values("Set-Cookie") {
			c.errorf("Set-Cookie: %s", line)
		}
		if _, err := c.stdout.Write(raw); err != nil {
			return exitInternal
		}
		return exitOK
	}
	return c.printJSON(issueOutput{Wire: wire, SetCookie: respHeader.Values("Set-Cookie")})
}

type verifyOutput struct {
	Principal        string    `json:"principal"`
	SessionPrincipal string    `json:"session_principal"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (c *cli) runVerify(args []string) int {
	fs := pflag.NewFlagSet("verify", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	in := fs.String("in", "-", "wire bundle file, - for stdin")
	format := fs.String("format", "json", "input format: json | cbor")
	at := fs.String("at", "", "verify at this RFC 3339 time instead of now")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}

	now := c.now()
	if strings.TrimSpace(*at) != "" {
		parsed, err := time.Parse(time.RFC3339Nano, *at)
		if err != nil {
			c.errorf("parse --at: %v", err)
			return exitInvalidInput
		}
		now = parsed
	}
	wire, err := c.readWire(*in, *format)
	if err != nil {
		c.errorf("read wire: %v", err)
		return exitInvalidInput
	}

	owner, err := principal.SelfAuthenticating(wire.FromKey)
	if err != nil {
		c.errorf("from_key: %v", err)
		return exitRejected
	}
	sessionKey, err := identity.VerifyChain(wire.FromKey, wire.DelegationChain, now)
	if err != nil {
		c.errorf("delegation chain: %v", err)
		return exitRejected
	}
	session, err := identity.SessionIdentityFromJWK(wire.ToSecret)
	if err != nil {
		c.errorf("to_secret: %v", err)
		return exitRejected
	}
	if !bytes.Equal(session.PublicKeyDER(), sessionKey) {
		c.errorf("to_secret is not the delegated session key")
		return exitRejected
	}

	expiry := wire.DelegationChain[0].Delegation.Expiration
	for _, link := range wire.DelegationChain[1:] {
		expiry = min(expiry, link.Delegation.Expiration)
	}
	return c.printJSON(verifyOutput{
		Principal:        owner.Text(),
		SessionPrincipal: session.Principal().Text(),
		ExpiresAt:        time.Unix(0, int64(expiry)).UTC(),
	})
}

type metadataOutput struct {
	Principal string              `json:"principal"`
	Found     bool                `json:"found"`
	Metadata  models.UserMetadata `json:"metadata"`
}

func (c *cli) runMetadataGet(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("metadata-get", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	principalText := fs.String("principal", "", "principal text")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	p, err := principal.Parse(strings.TrimSpace(*principalText))
	if err != nil {
		c.errorf("principal: %v", err)
		return exitInvalidInput
	}

	env, code := c.openEnvironment(*configPath)
	if env == nil {
		return code
	}
	defer env.close()

	metadata, ok, err := env.svc.GetUserMetadata(ctx, env.kv, p)
	if err != nil {
		c.errorf("get metadata: %v", err)
		return exitCodeFor(err)
	}
	return c.printJSON(metadataOutput{Principal: p.Text(), Found: ok, Metadata: metadata})
}

func (c *cli) runMetadataSet(ctx context.Context, args []string) int {
	fs := pflag.NewFlagSet("metadata-set", pflag.ContinueOnError)
	fs.SetOutput(c.stderr)
	configPath := fs.String("config", "", "path to config.yaml")
	principalText := fs.String("principal", "", "principal text")
	data := fs.String("data", "", "metadata JSON object")
	wirePath := fs.String("wire", "", "wire bundle proving ownership; omit for an operator override")
	if err := fs.Parse(args); err != nil {
		return exitInvalidInput
	}
	p, err := principal.Parse(strings.TrimSpace(*principalText))
	if err != nil {
		c.errorf("principal: %v", err)
		return exitInvalidInput
	}
	var metadata models.UserMetadata
	if err := json.Unmarshal([]byte(*data), &metadata); err != nil || metadata == nil {
		c.errorf("--data must be a JSON object")
		return exitInvalidInput
	}

	env, code := c.openEnvironment(*configPath)
	if env == nil {
		return code
	}
	defer env.close()

	if strings.TrimSpace(*wirePath) == "" {
		env.logger.Warn("metadata written without ownership proof", "component", "identityctl", "principal", p.Text())
		err = auth.SetUserMetadataUnchecked(ctx, env.kv, p, metadata)
	} else {
		var wire models.DelegatedIdentityWire
		wire, err = c.readWire(*wirePath, "json")
		if err != nil {
			c.errorf("read wire: %v", err)
			return exitInvalidInput
		}
		var proof models.MetadataWriteProof
		proof, err = auth.NewMetadataWriteProof(wire, p, metadata, c.now())
		if err == nil {
			err = env.svc.SetUserMetadata(ctx, env.kv, p, metadata, proof)
		}
	}
	if err != nil {
		c.errorf("set metadata: %v", err)
		return exitCodeFor(err)
	}
	return c.printJSON(metadataOutput{Principal: p.Text(), Found: true, Metadata: metadata})
}

// readWire accepts a bare wire bundle or the JSON output of issue.
func (c *cli) readWire(path, format string) (models.DelegatedIdentityWire, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(c.stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return models.DelegatedIdentityWire{}, err
	}
	switch format {
	case "cbor":
		return models.DecodeWireCBOR(raw)
	case "json":
		var envelope struct {
			Wire *models.DelegatedIdentityWire `json:"wire"`
		}
		if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Wire != nil {
			return *envelope.Wire, nil
		}
		var wire models.DelegatedIdentityWire
		if err := json.Unmarshal(raw, &wire); err != nil {
			return models.DelegatedIdentityWire{}, err
		}
		return wire, nil
	default:
		return models.DelegatedIdentityWire{}, fmt.Errorf("unknown format %q", format)
	}
}

func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, auth.ErrUnauthorized), errors.Is(err, auth.ErrGenerationThrottled):
		return exitRejected
	case errors.Is(err, contracts.ErrStorage), errors.Is(err, contracts.ErrDecode):
		return exitStorage
	default:
		return exitInternal
	}
}

func (c *cli) printJSON(v any) int {
	enc := json.NewEncoder(c.stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		c.errorf("encode output: %v", err)
		return exitInternal
	}
	return exitOK
}

func (c *cli) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.stdout, format, args...)
}

func (c *cli) errorf(format string, args ...any) {
	_, _ = fmt.Fprintf(c.stderr, format+"\n", args...)
}
