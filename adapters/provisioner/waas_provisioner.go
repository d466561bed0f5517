package provisioner

import (
	"context"
	"fmt"

	"github.com/0xfutbol/id/core"
	"github.com/0xfutbol/id/ports"
	"github.com/0xfutbol/id/waas"
)

// WaaSProvisioner provisions custodial wallets through the WaaS backend using
// the service token.
type WaaSProvisioner struct {
	client *waas.Client
}

func NewWaaSProvisioner(client *waas.Client) *WaaSProvisioner {
	return &WaaSProvisioner{client: client}
}

var _ ports.WalletProvisioner = (*WaaSProvisioner)(nil)

func (p *WaaSProvisioner) CreateWallet(ctx context.Context, owner string) (*core.Wallet, error) {
	w, err := p.client.CreateWallet(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to provision wallet: %w", err)
	}
	return w, nil
}

func (p *WaaSProvisioner) CreateSession(ctx context.Context, walletID string) (*core.WaaSSession, error) {
	s, err := p.client.CreateSession(ctx, walletID)
	if err != nil {
		return nil, fmt.Errorf("failed to create wallet session: %w", err)
	}
	return s, nil
}
