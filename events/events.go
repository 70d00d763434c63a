// Package events defines the typed notifications emitted by the ledger
// components and the sinks that consume them.
package events

import (
	"log/slog"
	"math/big"
	"time"

	"github.com/merova/confidential-batch-backend/interfaces"
)

// Event is a notification emitted after a successful state change.
type Event interface {
	// EventName returns the stable notification name.
	EventName() string
}

// OwnershipTransferred is emitted when the owner role moves to a new account.
type OwnershipTransferred struct {
	Previous interfaces.AccountAddress `json:"previous"`
	New      interfaces.AccountAddress `json:"new"`
}

func (OwnershipTransferred) EventName() string { return "OwnershipTransferred" }

// ProviderAdded is emitted when an account gains the provider role.
type ProviderAdded struct {
	Provider interfaces.AccountAddress `json:"provider"`
}

func (ProviderAdded) EventName() string { return "ProviderAdded" }

// ProviderRemoved is emitted when an account loses the provider role.
type ProviderRemoved struct {
	Provider interfaces.AccountAddress `json:"provider"`
}

func (ProviderRemoved) EventName() string { return "ProviderRemoved" }

// PauseToggled is emitted when the pause flag changes.
type PauseToggled struct {
	Paused bool `json:"paused"`
}

func (PauseToggled) EventName() string { return "PauseToggled" }

// CooldownWindowChanged is emitted when the rate-limit window changes.
type CooldownWindowChanged struct {
	Window time.Duration `json:"window"`
}

func (CooldownWindowChanged) EventName() string { return "CooldownWindowChanged" }

// AssetRegistered is emitted when an asset joins the ordered registry.
type AssetRegistered struct {
	Asset    interfaces.AssetID `json:"asset"`
	Position int                `json:"position"`
}

func (AssetRegistered) EventName() string { return "AssetRegistered" }

// BatchOpened is emitted when a new batch becomes current.
type BatchOpened struct {
	Batch interfaces.BatchID `json:"batch"`
}

func (BatchOpened) EventName() string { return "BatchOpened" }

// BatchClosed is emitted when the current batch transitions to Closed.
type BatchClosed struct {
	Batch interfaces.BatchID `json:"batch"`
}

func (BatchClosed) EventName() string { return "BatchClosed" }

// Submitted is emitted after a provider submission is stored.
type Submitted struct {
	Batch  interfaces.BatchID          `json:"batch"`
	Actor  interfaces.AccountAddress   `json:"actor"`
	Asset  interfaces.AssetID          `json:"asset"`
	Kind   interfaces.SubmissionKind   `json:"kind"`
	Handle interfaces.CiphertextHandle `json:"handle"`
}

func (Submitted) EventName() string { return "Submitted" }

// DecryptionRequested is emitted when a decryption request is issued to the
// external oracle.
type DecryptionRequested struct {
	Request   interfaces.RequestID `json:"request"`
	Batch     interfaces.BatchID   `json:"batch"`
	StateHash interfaces.StateHash `json:"state_hash"`
}

func (DecryptionRequested) EventName() string { return "DecryptionRequested" }

// DecryptionCompleted is emitted exactly once per request when a verified
// callback finalizes plaintext results. Amounts are ordered by the asset
// registry enumeration.
type DecryptionCompleted struct {
	Request      interfaces.RequestID `json:"request"`
	Batch        interfaces.BatchID   `json:"batch"`
	Assets       []interfaces.AssetID `json:"assets"`
	AssetAmounts []*big.Int           `json:"asset_amounts"`
	HedgeAmounts []*big.Int           `json:"hedge_amounts"`
}

func (DecryptionCompleted) EventName() string { return "DecryptionCompleted" }

// Sink consumes emitted events. Publish must not block for long and must not
// fail the emitting operation.
type Sink interface {
	Publish(event Event)
}

// LogSink publishes events as structured log records.
type LogSink struct {
	log *slog.Logger
}

// NewLogSink creates a sink logging each event at info level.
func NewLogSink(log *slog.Logger) *LogSink {
	return &LogSink{log: log}
}

// Publish logs the event with its name and payload.
func (s *LogSink) Publish(event Event) {
	s.log.Info("event emitted", slog.String("event", event.EventName()), slog.Any("payload", event))
}

// ChannelSink publishes events to a buffered channel. Events are dropped when
// the channel is full so a slow consumer never blocks ledger operations.
type ChannelSink struct {
	ch chan Event
}

// NewChannelSink creates a sink with the given buffer size.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan Event, size)}
}

// Publish delivers the event if buffer space is available.
func (s *ChannelSink) Publish(event Event) {
	select {
	case s.ch <- event:
	default:
	}
}

// Events returns the receive side of the sink.
func (s *ChannelSink) Events() <-chan Event {
	return s.ch
}

// MultiSink fans an event out to several sinks in order.
type MultiSink []Sink

// Publish delivers the event to every sink.
func (s MultiSink) Publish(event Event) {
	for _, sink := range s {
		sink.Publish(event)
	}
}

// NopSink discards all events.
type NopSink struct{}

// Publish discards the event.
func (NopSink) Publish(Event) {}
