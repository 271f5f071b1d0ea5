// veild is the shielded-pool indexer daemon: it runs the event ingest
// task, the historical-backfill task, and the HTTP API task side by
// side, in the style of the teacher's cmd/ccoind's parseFlags/run split.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"github.com/veil-protocol/veil/internal/config"
	"github.com/veil-protocol/veil/internal/httpapi"
	"github.com/veil-protocol/veil/internal/indexer"
	"github.com/veil-protocol/veil/internal/keyring"
	"github.com/veil-protocol/veil/pkg/common"
)

const version = "0.1.0"

func main() {
	cfg := config.ParseDaemonFlags()
	fmt.Printf("veild v%s starting\n", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("shutting down...")
		cancel()
	}()

	if err := run(ctx, cfg); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.DaemonConfig) error {
	keys, err := keyring.Load(cfg.KeyFile)
	if err != nil {
		return fmt.Errorf("load keyring: %w", err)
	}

	store, err := indexer.NewPostgresStore(ctx, cfg.IndexerStoreConfig())
	if err != nil {
		return fmt.Errorf("connect indexer store: %w", err)
	}
	defer store.Close()

	engine := indexer.NewEngine(store, indexer.ModeMerkleEnabled, indexer.Keyring{
		SpendSK:   keys.SpendSK,
		ViewSK:    keys.ViewSK,
		DepositSK: keys.DepositSK,
	})

	// The bounded channel of §5: its one producer, the websocket
	// subscriber, blocks on send once it fills, giving backpressure
	// against a slow ingest consumer. backfillTask does not send on this
	// channel; Engine.Backfill applies each replayed event itself through
	// ApplyRaw, concurrently with ingestTask.
	events := make(chan []byte, 100)

	var tasks []func() error
	tasks = append(tasks, func() error { return ingestTask(ctx, engine, events) })
	tasks = append(tasks, func() error { return websocketTask(ctx, cfg.WebsocketURL, events) })
	tasks = append(tasks, func() error { return httpTask(ctx, engine, cfg) })
	tasks = append(tasks, func() error { return backfillTask(ctx, engine, cfg) })

	errCh := make(chan error, len(tasks))
	for _, task := range tasks {
		task := task
		go func() { errCh <- task() }()
	}

	// Unlike ingestTask/websocketTask/httpTask, backfillTask completes
	// (with a nil error) once it has caught up, so a single value off
	// errCh can no longer be treated as "the daemon is done" — only
	// ctx cancellation or an actual task error ends the run.
	for range tasks {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// ingestTask is §5's event ingest task: single consumer of the bounded
// channel, dispatching each tagged message to the engine.
func ingestTask(ctx context.Context, engine *indexer.Engine, events <-chan []byte) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-events:
			if !ok {
				return nil
			}
			if err := engine.ApplyRaw(msg); err != nil {
				fmt.Fprintf(os.Stderr, "ingest: %v\n", err)
			}
		}
	}
}

// websocketTask is §5's producer side: it subscribes to the settlement
// layer's chain-log stream and forwards each message onto the bounded
// channel. A failed dial is retried with exponential backoff (capped at
// 30s); after a read error the task redials at once.
func websocketTask(ctx context.Context, url string, events chan<- []byte) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second
	degraded := indexer.NewDegradationTracker(5, time.Minute)

	for {
		if ctx.Err() != nil {
			return nil
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err != nil {
			fmt.Fprintf(os.Stderr, "websocket dial: %v, retrying in %s\n", err, backoff)
			if degErr := degraded.Fail(time.Now()); degErr != nil {
				return degErr
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			if backoff *= 2; backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = time.Second
		degraded.Reset()

		if err := readLoop(ctx, conn, events); err != nil {
			fmt.Fprintf(os.Stderr, "websocket read: %v\n", err)
		}
		conn.Close()
	}
}

func readLoop(ctx context.Context, conn *websocket.Conn, events chan<- []byte) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		select {
		case events <- msg:
		case <-ctx.Done():
			return nil
		}
	}
}

// httpTask is §5's foreground API task.
func httpTask(ctx context.Context, engine *indexer.Engine, cfg *config.DaemonConfig) error {
	server := &httpapi.Server{Engine: engine, TreeDepth: cfg.TreeDepth, DefaultTree: cfg.TreeNumber}
	httpServer := &http.Server{Addr: cfg.ListenAddr, Handler: httpapi.NewRouter(server)}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	fmt.Printf("HTTP API listening on %s\n", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// backfillTask is the supplemented historical-backfill task of §5: it
// walks cfg.RPCAddr for any events that predate the live websocket
// subscription and replays them through the engine, then exits —
// backfill is a bounded catch-up, not a long-lived subscription like
// websocketTask.
func backfillTask(ctx context.Context, engine *indexer.Engine, cfg *config.DaemonConfig) error {
	source := newHTTPEventSource(cfg.RPCAddr)
	if err := engine.Backfill(ctx, source, ""); err != nil {
		return fmt.Errorf("backfill: %w", err)
	}
	fmt.Println("backfill complete")
	return nil
}

// httpEventSource is a minimal generalization of
// original_source/indexer/src/client/solana.rs's
// fetch_historical_events pagination over a plain HTTP/JSON endpoint:
// no chain-specific method names or account types, since the settlement
// RPC protocol itself is out of scope per spec.md §1.
type httpEventSource struct {
	addr   string
	client *http.Client
}

func newHTTPEventSource(addr string) *httpEventSource {
	return &httpEventSource{addr: addr, client: &http.Client{Timeout: 10 * time.Second}}
}

type signaturesResponse struct {
	Signatures []string `json:"signatures"`
}

// FetchSignatures mirrors get_signatures_for_address's pagination: GET
// /signatures?after=...&limit=... on the settlement RPC endpoint.
func (s *httpEventSource) FetchSignatures(ctx context.Context, from string, limit int) ([]string, error) {
	url := fmt.Sprintf("http://%s/signatures?after=%s&limit=%d", s.addr, from, limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch signatures: %v", common.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch signatures: status %s", common.ErrTransport, resp.Status)
	}
	var out signaturesResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode signatures: %v", common.ErrSerialization, err)
	}
	return out.Signatures, nil
}

type eventResponse struct {
	Found bool   `json:"found"`
	Data  string `json:"data"`
}

// FetchEvent mirrors get_transaction's per-signature log fetch: GET
// /transaction?signature=... returning the tagged event body, base64
// encoded, the same shape ingestTask dispatches from the websocket.
func (s *httpEventSource) FetchEvent(ctx context.Context, signature string) ([]byte, error) {
	url := fmt.Sprintf("http://%s/transaction?signature=%s", s.addr, signature)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch transaction: %v", common.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: fetch transaction: status %s", common.ErrTransport, resp.Status)
	}
	var out eventResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode transaction: %v", common.ErrSerialization, err)
	}
	if !out.Found {
		return nil, common.ErrNotFound
	}
	data, err := base64.StdEncoding.DecodeString(out.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: decode event data: %v", common.ErrSerialization, err)
	}
	return data, nil
}
