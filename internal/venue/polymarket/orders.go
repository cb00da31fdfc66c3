package polymarket

import (
	"crypto/ecdsa"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/polymarket/go-order-utils/pkg/builder"
	"github.com/polymarket/go-order-utils/pkg/model"
)

// polygonChainID is the chain the CTF exchange contracts live on.
var polygonChainID = big.NewInt(137)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// orderSigner builds EIP-712 signed orders and the HMAC L2 auth headers the
// CLOB requires. The EOA derived from the private key signs; the proxy
// wallet, when configured, is the maker that holds the funds.
type orderSigner struct {
	apiKey        string
	secret        string
	passphrase    string
	privateKey    *ecdsa.PrivateKey
	address       string
	proxyAddress  string
	signatureType model.SignatureType
	builder       builder.ExchangeOrderBuilder
}

func newOrderSigner(apiKey, secret, passphrase, privateKeyHex, proxyAddress string) (*orderSigner, error) {
	privateKey, err := ethcrypto.HexToECDSA(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}

	publicKey, ok := privateKey.Public().(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive public key")
	}
	address := ethcrypto.PubkeyToAddress(*publicKey).Hex()

	sigType := model.EOA
	if proxyAddress != "" {
		sigType = model.POLY_GNOSIS_SAFE
	}

	return &orderSigner{
		apiKey:        apiKey,
		secret:        secret,
		passphrase:    passphrase,
		privateKey:    privateKey,
		address:       address,
		proxyAddress:  proxyAddress,
		signatureType: sigType,
		builder:       builder.NewExchangeOrderBuilderImpl(polygonChainID, nil),
	}, nil
}

// signedOrderJSON is the wire shape the CLOB accepts. Salt and signatureType
// are integers; everything else is a string.
type signedOrderJSON struct {
	Salt          int64  `json:"salt"`
	Maker         string `json:"maker"`
	Signer        string `json:"signer"`
	Taker         string `json:"taker"`
	TokenID       string `json:"tokenId"`
	MakerAmount   string `json:"makerAmount"`
	TakerAmount   string `json:"takerAmount"`
	Side          string `json:"side"`
	Expiration    string `json:"expiration"`
	Nonce         string `json:"nonce"`
	FeeRateBps    string `json:"feeRateBps"`
	SignatureType int    `json:"signatureType"`
	Signature     string `json:"signature"`
}

// buildBuyOrder signs a buy of the given outcome token: makerAmount is the
// USDC spent, takerAmount the tokens received, both in 1e6 raw units.
func (s *orderSigner) buildBuyOrder(tokenID string, price float64, contracts int) (*signedOrderJSON, error) {
	maker := s.address
	if s.proxyAddress != "" {
		maker = s.proxyAddress
	}

	usd := price * float64(contracts)

	data := &model.OrderData{
		Maker:         maker,
		Taker:         zeroAddress,
		TokenId:       tokenID,
		MakerAmount:   usdToRawAmount(usd),
		TakerAmount:   usdToRawAmount(float64(contracts)),
		Side:          model.BUY,
		FeeRateBps:    "0",
		Nonce:         "0",
		Signer:        s.address,
		Expiration:    "0",
		SignatureType: s.signatureType,
	}

	signed, err := s.builder.BuildSignedOrder(s.privateKey, data, model.CTFExchange)
	if err != nil {
		return nil, fmt.Errorf("build signed order: %w", err)
	}

	side := "BUY"
	if signed.Side.Uint64() == uint64(model.SELL) {
		side = "SELL"
	}

	return &signedOrderJSON{
		Salt:          signed.Salt.Int64(),
		Maker:         signed.Maker.Hex(),
		Signer:        signed.Signer.Hex(),
		Taker:         signed.Taker.Hex(),
		TokenID:       signed.TokenId.String(),
		MakerAmount:   signed.MakerAmount.String(),
		TakerAmount:   signed.TakerAmount.String(),
		Side:          side,
		Expiration:    signed.Expiration.String(),
		Nonce:         signed.Nonce.String(),
		FeeRateBps:    signed.FeeRateBps.String(),
		SignatureType: int(signed.SignatureType.Int64()),
		Signature:     "0x" + common.Bytes2Hex(signed.Signature),
	}, nil
}

// l2Headers builds the HMAC auth headers for one request. The secret is
// URL-safe base64 on both legs, matching the venue's reference clients.
func (s *orderSigner) l2Headers(method, requestPath string, body []byte) (http.Header, error) {
	timestamp := fmt.Sprintf("%d", time.Now().Unix())
	payload := timestamp + method + requestPath + string(body)

	secretBytes, err := base64.URLEncoding.DecodeString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("decode api secret: %w", err)
	}

	mac := hmac.New(sha256.New, secretBytes)
	mac.Write([]byte(payload))
	signature := base64.URLEncoding.EncodeToString(mac.Sum(nil))

	h := http.Header{}
	h.Set("POLY_API_KEY", s.apiKey)
	h.Set("POLY_SIGNATURE", signature)
	h.Set("POLY_TIMESTAMP", timestamp)
	h.Set("POLY_PASSPHRASE", s.passphrase)
	h.Set("POLY_ADDRESS", s.address)
	return h, nil
}

func usdToRawAmount(usd float64) string {
	return fmt.Sprintf("%d", int64(usd*1_000_000))
}
