package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/valyala/bytebufferpool"
	"golang.org/x/sync/errgroup"

	"hpool/pkg/client"
	"hpool/pkg/config"
	"hpool/pkg/errors"
	"hpool/pkg/logger"
	"hpool/pkg/pool"
)

type result struct {
	url     string
	status  int
	proto   string
	size    int64
	elapsed time.Duration
	body    []byte
	err     error
}

func main() {
	os.Exit(run())
}

func run() int {
	flag.Usage = usage
	configPath := flag.String("config", "", "Config file path (optional)")
	http2 := flag.Bool("http2", false, "Use HTTP/2 with prior knowledge")
	maxPerOrigin := flag.Int("max-per-origin", -1, "Max connections per origin, 0 for unlimited (-1 uses config)")
	parallel := flag.Int("parallel", 4, "Number of concurrent fetches")
	timeout := flag.Duration("timeout", 30*time.Second, "Per-request timeout, 0 disables")
	insecure := flag.Bool("insecure", false, "Skip TLS certificate verification")
	printBody := flag.Bool("print", false, "Write response bodies to stdout")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "", "Log format: text or json")
	flag.Parse()

	urls := flag.Args()
	if len(urls) == 0 {
		usage()
		return 2
	}
	if *parallel < 1 {
		*parallel = 1
	}

	// Load configuration (from file or defaults)
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hget: %v\n", err)
		return 2
	}

	// Override config with command-line flags if provided
	if *http2 {
		cfg.HTTP2 = true
	}
	if *maxPerOrigin >= 0 {
		cfg.MaxPerOrigin = *maxPerOrigin
	}
	if *insecure {
		cfg.TLS.InsecureSkipVerify = true
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "hget: %v\n", err)
		return 2
	}

	// Initialize structured logger
	logger.Init(logger.LogLevel(cfg.Logging.Level), cfg.Logging.Format)
	log := logger.Get()
	log.Debug("configuration loaded", "config", cfg.String())

	tlsCfg, err := cfg.TLS.ClientConfig()
	if err != nil {
		log.Err("failed to build TLS configuration", err)
		return 2
	}

	p := pool.NewPool(pool.Config{
		TLS:          tlsCfg,
		EnableHTTP2:  cfg.HTTP2,
		MaxPerOrigin: cfg.MaxPerOrigin,
		Timeouts:     cfg.Timeouts.Durations(),
		Log:          log,
	})
	c := client.New(p, client.Options{
		DecodeContent: cfg.Decode.Content,
		DecodeCharset: cfg.Decode.Charset,
		Log:           log,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	results := make([]result, len(urls))
	var g errgroup.Group
	g.SetLimit(*parallel)
	for i, u := range urls {
		g.Go(func() error {
			results[i] = fetch(ctx, c, u, *timeout, *printBody)
			return nil
		})
	}
	_ = g.Wait()

	// With -print the bodies own stdout, so status lines move to stderr.
	statusDst := io.Writer(os.Stdout)
	if *printBody {
		statusDst = os.Stderr
	}

	exit := 0
	for _, r := range results {
		if r.err != nil {
			fmt.Fprintf(os.Stderr, "%s %s: %v\n", errLabel(r.err), r.url, r.err)
			exit = 1
			continue
		}
		fmt.Fprintf(statusDst, "%d %s %s %d bytes %s\n", r.status, r.proto, r.url, r.size, r.elapsed.Round(time.Millisecond))
		if *printBody {
			os.Stdout.Write(r.body)
		}
	}

	st := p.Stats()
	log.Debug("pool stats",
		"origins", st.Origins,
		"idle", st.Idle,
		"created", st.Created,
		"reused", st.Reused,
		"evicted", st.Evicted)

	if err := p.Close(); err != nil {
		log.Err("pool shutdown reported errors", err)
	}
	return exit
}

func fetch(ctx context.Context, c *client.Client, url string, timeout time.Duration, keepBody bool) result {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.Get(ctx, url)
	if err != nil {
		return result{url: url, err: err}
	}
	defer resp.Body.Close()

	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)

	n, err := buf.ReadFrom(resp.Body)
	if err != nil {
		return result{url: url, err: err}
	}

	r := result{url: url, status: resp.StatusCode, proto: resp.Proto, size: n, elapsed: time.Since(start)}
	if keepBody {
		r.body = append([]byte(nil), buf.B...)
	}
	return r
}

// errLabel tags the per-URL failure line: deadline failures read TIMEOUT,
// everything else ERR.
func errLabel(err error) string {
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return "TIMEOUT"
	}
	return "ERR"
}

func usage() {
	fmt.Fprint(os.Stderr, `hget - HTTP fetcher with per-origin connection pooling

Usage:
  hget [flags] URL [URL...]

Flags:
`)
	flag.PrintDefaults()
	fmt.Fprint(os.Stderr, `
Examples:
  hget https://example.com/
  hget -http2 -parallel 8 https://a.test/x https://a.test/y
  hget -max-per-origin 2 -log-level debug https://example.com/
  hget -print https://example.com/ > page.html
`)
}
