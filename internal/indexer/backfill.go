package indexer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/veil-protocol/veil/internal/wire"
	"github.com/veil-protocol/veil/pkg/common"
)

// EventTagNullifier extends wire's request dispatch tags to the
// settlement-layer event stream: deposit/transfer/withdraw events reuse
// wire's own tags since a DepositEvent and a TransactionEvent are
// unambiguous by shape, and nullifier events get this fourth tag since
// §6 only specifies the event encodings, not how a stream frames them.
const EventTagNullifier byte = 0x04

// ApplyRaw decodes one tagged, wire-encoded event — the same shape
// whether delivered live over a websocket subscription or replayed by
// Backfill — and applies it through the matching Ingest* method.
func (e *Engine) ApplyRaw(msg []byte) error {
	tag, body, err := wire.UntagRequest(msg)
	if err != nil {
		return err
	}
	switch tag {
	case wire.TagDeposit:
		ev, err := wire.DecodeDepositEvent(body)
		if err != nil {
			return err
		}
		return e.IngestDeposit(ev)
	case wire.TagTransfer, wire.TagWithdraw:
		ev, err := wire.DecodeTransactionEvent(body)
		if err != nil {
			return err
		}
		return e.IngestTransaction(ev)
	case EventTagNullifier:
		ev, err := wire.DecodeNullifierEvent(body)
		if err != nil {
			return err
		}
		return e.IngestNullifiers(ev)
	default:
		return fmt.Errorf("unrecognized event tag %#x", tag)
	}
}

// EventSource is the generalized settlement-layer transport Backfill
// walks: a paginated signature list plus a per-signature event fetch,
// grounded in original_source/indexer/src/client/solana.rs's
// fetch_historical_events (get_signatures_for_address then
// get_transaction per signature) but kept free of any chain-specific
// type, since the settlement client itself is out of scope per spec.md
// §1 — only the walk-and-replay pattern is generalized here.
type EventSource interface {
	// FetchSignatures returns up to limit event identifiers older than
	// (exclusive of) from, or an empty slice once the source is
	// exhausted.
	FetchSignatures(ctx context.Context, from string, limit int) ([]string, error)

	// FetchEvent returns the tagged, wire-encoded event body recorded
	// under signature, or a common.ErrNotFound-wrapping error if that
	// signature carried no program event.
	FetchEvent(ctx context.Context, signature string) ([]byte, error)
}

const backfillPageSize = 100

// backfillDegradeThreshold/Window match the accounting websocketTask
// applies to its own dial/read retries.
const (
	backfillDegradeThreshold = 5
	backfillDegradeWindow    = time.Minute
)

// Backfill implements the supplemented historical-backfill feature of
// §4.D/§5: walk source's paginated signature list starting after
// fromSignature, replay each event through ApplyRaw — the same
// decode-and-apply path live ingest uses — and return once a page comes
// back empty. Transport failures are accounted by a DegradationTracker;
// once the failure window is exceeded, Backfill returns
// common.ErrIndexerDegraded instead of retrying forever against a dead
// endpoint.
func (e *Engine) Backfill(ctx context.Context, source EventSource, fromSignature string) error {
	degraded := NewDegradationTracker(backfillDegradeThreshold, backfillDegradeWindow)
	cursor := fromSignature

	for {
		if ctx.Err() != nil {
			return nil
		}

		signatures, err := source.FetchSignatures(ctx, cursor, backfillPageSize)
		if err != nil {
			if degErr := degraded.Fail(time.Now()); degErr != nil {
				return degErr
			}
			continue
		}
		if len(signatures) == 0 {
			return nil
		}
		degraded.Reset()

		for _, sig := range signatures {
			if ctx.Err() != nil {
				return nil
			}

			body, err := source.FetchEvent(ctx, sig)
			if errors.Is(err, common.ErrNotFound) {
				cursor = sig
				continue
			}
			if err != nil {
				if degErr := degraded.Fail(time.Now()); degErr != nil {
					return degErr
				}
				continue
			}
			degraded.Reset()

			if err := e.ApplyRaw(body); err != nil {
				return err
			}
			cursor = sig
		}
	}
}
