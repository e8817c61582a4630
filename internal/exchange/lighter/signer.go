package lighter

import (
	"fmt"
	"time"

	"github.com/elliottech/lighter-go/client"
	lighterhttp "github.com/elliottech/lighter-go/client/http"
	"github.com/elliottech/lighter-go/types"
	"github.com/elliottech/lighter-go/types/txtypes"
)

// Transaction type ids accepted by /api/v1/sendTx.
const (
	txTypeCreateOrder = 14
	txTypeCancelOrder = 15
)

// TxSigner produces signed transaction payloads.
type TxSigner interface {
	CreateOrder(req *types.CreateOrderTxReq) (string, error)
	CancelOrder(marketIndex uint8, index int64) (string, error)
	AuthToken(deadline time.Time) (string, error)
}

type sdkSigner struct {
	tx *client.TxClient
}

// NewSDKSigner wraps the lighter-go transaction client.
func NewSDKSigner(baseURL, privateKey string, chainID uint32, apiKeyIndex uint8, accountIndex int64) (TxSigner, error) {
	httpCli := lighterhttp.NewClient(baseURL)

	// CreateClient(httpClient, privateKey, chainId, apiKeyIndex, accountIndex)
	txClient, err := client.CreateClient(httpCli, privateKey, chainID, apiKeyIndex, accountIndex)
	if err != nil {
		return nil, fmt.Errorf("failed to create TxClient: %w", err)
	}
	if err := txClient.Check(); err != nil {
		return nil, fmt.Errorf("TxClient check failed: %w", err)
	}
	return &sdkSigner{tx: txClient}, nil
}

func (s *sdkSigner) CreateOrder(req *types.CreateOrderTxReq) (string, error) {
	txInfo, err := s.tx.GetCreateOrderTransaction(req, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create order transaction: %w", err)
	}
	return txInfo.GetTxInfo()
}

func (s *sdkSigner) CancelOrder(marketIndex uint8, index int64) (string, error) {
	txInfo, err := s.tx.GetCancelOrderTransaction(&types.CancelOrderTxReq{
		MarketIndex: int16(marketIndex),
		Index:       index,
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create cancel transaction: %w", err)
	}
	return txInfo.GetTxInfo()
}

func (s *sdkSigner) AuthToken(deadline time.Time) (string, error) {
	return s.tx.GetAuthToken(deadline)
}

func orderTypes(market bool) (orderType, tif uint8) {
	if market {
		return uint8(txtypes.MarketOrder), uint8(txtypes.ImmediateOrCancel)
	}
	return uint8(txtypes.LimitOrder), uint8(txtypes.GoodTillTime)
}
