// Package chaintrigger implements a TriggerSource backed by an EVM RPC
// endpoint: it subscribes to new block headers over go-ethereum's
// ethclient and fires on_command:chain.block triggers, giving installations
// that want plugins reacting to on-chain events a concrete trigger source
// alongside the RabbitMQ and Redis-backed collaborators. The host wires it
// only when it is enabled in the configuration; NewSource rejects an empty
// URL.
package chaintrigger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/xnote-app/plugin-runtime/pkg/plugin"
)

// BlockTrigger is the activation event fired for every new head observed
// on the configured chain.
const BlockTrigger = plugin.ActivationEvent("on_command:chain.block")

// Config describes the RPC endpoint a Source subscribes against.
type Config struct {
	RPCURL string
	WSURL  string
}

// Source is a trigger source backed by an Ethereum-compatible node.
type Source struct {
	eth *ethclient.Client
}

// NewSource dials the configured endpoint, preferring the websocket URL
// when present since SubscribeNewHead requires a duplex transport.
func NewSource(ctx context.Context, cfg Config) (*Source, error) {
	url := strings.TrimSpace(cfg.WSURL)
	if url == "" {
		url = strings.TrimSpace(cfg.RPCURL)
	}
	if url == "" {
		return nil, errors.New("chaintrigger: rpc url cannot be empty")
	}

	eth, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("chaintrigger: dial node: %w", err)
	}
	return &Source{eth: eth}, nil
}

// Run subscribes to new block headers and invokes onTrigger with
// BlockTrigger for each one, until ctx is cancelled or the subscription
// errors out.
func (s *Source) Run(ctx context.Context, onTrigger func(tag string)) error {
	headers := make(chan *types.Header, 16)
	sub, err := s.eth.SubscribeNewHead(ctx, headers)
	if err != nil {
		return fmt.Errorf("chaintrigger: subscribe new head: %w", err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			return fmt.Errorf("chaintrigger: subscription error: %w", err)
		case <-headers:
			onTrigger(string(BlockTrigger))
		}
	}
}

// Close releases the underlying RPC connection.
func (s *Source) Close() error {
	if s == nil || s.eth == nil {
		return nil
	}
	s.eth.Close()
	return nil
}
