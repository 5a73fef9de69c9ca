package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"voltrewards/internal/store"
)

// WalletClient posts driver credits to the external wallet/ledger service.
// The service deduplicates on (Idempotency-Key, payload hash): an identical
// pair replays the original transaction, the same key with a different hash
// returns 409.
type WalletClient struct {
	base *BaseClient
}

// NewWalletClient returns the client.
func NewWalletClient(baseURL string, httpClient HTTPDoer) *WalletClient {
	return &WalletClient{base: NewBaseClient(baseURL, httpClient)}
}

type creditRequest struct {
	DriverID    int64  `json:"driver_id"`
	AmountCents int64  `json:"amount_cents"`
	PayloadHash string `json:"payload_hash"`
}

type creditResponse struct {
	TransactionID string `json:"transaction_id"`
}

// Credit implements store.Wallet.
func (c *WalletClient) Credit(ctx context.Context, driverID, amountCents int64, idempotencyKey, payloadHash string) (string, error) {
	body, err := json.Marshal(creditRequest{
		DriverID:    driverID,
		AmountCents: amountCents,
		PayloadHash: payloadHash,
	})
	if err != nil {
		return "", err
	}

	headers := map[string]string{"Idempotency-Key": idempotencyKey}
	status, respBody, err := c.base.Do(ctx, http.MethodPost, "/ledger/credits", body, headers)
	if err != nil {
		return "", fmt.Errorf("wallet: credit request: %w", err)
	}

	switch status {
	case http.StatusOK, http.StatusCreated:
		var resp creditResponse
		if err := json.Unmarshal(respBody, &resp); err != nil {
			return "", fmt.Errorf("wallet: decode response: %w", err)
		}
		return resp.TransactionID, nil
	case http.StatusConflict:
		return "", fmt.Errorf("%w: key %s", store.ErrLedgerConflict, idempotencyKey)
	default:
		return "", fmt.Errorf("wallet: unexpected status %d", status)
	}
}

var _ store.Wallet = (*WalletClient)(nil)
